package classify

import (
	"regexp"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Verb sets driving the baseline and escalation layers.
var (
	safeVerbs = map[string]bool{
		"get": true, "test": true, "measure": true, "format": true,
		"select": true, "where": true, "sort": true,
	}

	mutationVerbs = map[string]bool{
		"set": true, "stop": true, "remove": true, "new": true, "clear": true,
		"disable": true, "restart": true, "add": true, "import": true,
		"export": true, "invoke": true, "install": true, "uninstall": true,
		"move": true, "rename": true, "send": true, "copy": true,
	}

	destructiveNouns = map[string]bool{
		"service": true, "process": true, "item": true, "itemproperty": true,
		"variable": true, "alias": true, "module": true, "job": true,
	}
)

var verbNounPattern = regexp.MustCompile(`^([A-Za-z]+)-([A-Za-z]+)$`)

// parsedCommand is the tokenized leading command plus its switches.
type parsedCommand struct {
	Verb     string
	Noun     string
	Switches []string
}

// parseLeading tokenizes the command and extracts the leading Verb-Noun pair
// and every -Switch token. Tokenization failures degrade to a whitespace
// split so classification still sees the switches.
func parseLeading(cmd string) parsedCommand {
	parser := shellwords.NewParser()
	tokens, err := parser.Parse(cmd)
	if err != nil || len(tokens) == 0 {
		tokens = strings.Fields(cmd)
	}
	var out parsedCommand
	if len(tokens) == 0 {
		return out
	}
	if m := verbNounPattern.FindStringSubmatch(tokens[0]); m != nil {
		out.Verb = strings.ToLower(m[1])
		out.Noun = strings.ToLower(m[2])
	}
	for _, tok := range tokens[1:] {
		if strings.HasPrefix(tok, "-") {
			out.Switches = append(out.Switches, strings.ToLower(tok))
		}
	}
	return out
}

func (p parsedCommand) hasSwitch(name string) bool {
	for _, s := range p.Switches {
		if s == name || strings.HasPrefix(s, name+":") {
			return true
		}
	}
	return false
}

// escalate applies the noun/switch escalation table to a mutation-verb
// command. It returns the minimum level the command must carry, or LevelSafe
// when no escalation applies.
func escalate(p parsedCommand) Level {
	if !mutationVerbs[p.Verb] {
		// -Confirm:$false without a mutation verb does not escalate.
		return LevelSafe
	}

	force := p.hasSwitch("-force")
	recurse := p.hasSwitch("-recurse")
	noConfirm := p.hasSwitch("-confirm") && confirmSuppressed(p)

	level := LevelSafe
	if destructiveNouns[p.Noun] || force || recurse {
		level = LevelRisky
	}
	// -Confirm:$false with a mutation verb (or -Force) escalates one step.
	if noConfirm {
		level = bumpLevel(level)
	}
	return level
}

// confirmSuppressed reports whether -Confirm was passed with a false value.
func confirmSuppressed(p parsedCommand) bool {
	for _, s := range p.Switches {
		if s == "-confirm:$false" || s == "-confirm:false" {
			return true
		}
	}
	return false
}

func bumpLevel(l Level) Level {
	switch l {
	case LevelSafe:
		return LevelRisky
	case LevelRisky:
		return LevelDangerous
	default:
		return l
	}
}
