package classify

import (
	"fmt"

	"github.com/psgate/psgate/internal/learning"
	"github.com/psgate/psgate/internal/patterns"
)

// Recorder receives commands that classified as UNKNOWN so the learning
// pipeline can aggregate them. Implementations must not block.
type Recorder interface {
	RecordUnknown(command, sessionID string)
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(command, sessionID string)

// RecordUnknown calls f.
func (f RecorderFunc) RecordUnknown(command, sessionID string) { f(command, sessionID) }

// Classifier assigns a security assessment to each command by applying the
// layered rules over one pattern snapshot.
type Classifier struct {
	store    *patterns.Store
	recorder Recorder
}

// New creates a classifier over the given store. recorder may be nil.
func New(store *patterns.Store, recorder Recorder) *Classifier {
	return &Classifier{store: store, recorder: recorder}
}

// Classify applies the layers in fixed order; the first decisive outcome
// wins. The snapshot is read once at entry so a concurrent store mutation
// cannot change the rules mid-classification.
func (c *Classifier) Classify(command, sessionID string) Assessment {
	snap := c.store.CurrentSnapshot()
	parsed := parseLeading(command)

	// Layer 1: high-risk aliases and suspicious constructions.
	if p := snap.Match(patterns.GroupCriticalAliases, command); p != nil {
		a := newAssessment(LevelCritical, "matched critical construction: "+p.Name, p.Name)
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 2: blocked group.
	if p := snap.Match(patterns.GroupBlocked, command); p != nil {
		a := newAssessment(LevelBlocked, "blocked by policy: "+p.Name, p.Name)
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 3: dangerous fallbacks.
	if p := snap.Match(patterns.GroupDangerous, command); p != nil {
		a := newAssessment(LevelDangerous, "dangerous operation: "+p.Name, p.Name)
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 4: risky group. Escalation may still raise severity.
	if p := snap.Match(patterns.GroupRisky, command); p != nil {
		level := LevelRisky
		if esc := escalate(parsed); rank(esc) > rank(level) {
			level = esc
		}
		a := newAssessment(level, "requires confirmation: "+p.Name, p.Name)
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 5: safe group, including learned-safe promotions. Learned
	// patterns are authored from normalized forms, so the normalized
	// rendering is what they match against.
	if p := snap.Match(patterns.GroupSafe, command); p != nil {
		return c.safeWithEscalation(parsed, p.Name)
	}
	if p := snap.Match(patterns.GroupLearnedSafe, learning.Normalize(command)); p != nil {
		return c.safeWithEscalation(parsed, p.Name)
	}

	// Layer 6: verb baseline.
	if safeVerbs[parsed.Verb] {
		a := newAssessment(LevelSafe, fmt.Sprintf("safe verb %s-%s", parsed.Verb, parsed.Noun))
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 7: noun/switch escalation for mutation verbs.
	if esc := escalate(parsed); esc != LevelSafe {
		a := newAssessment(esc, fmt.Sprintf("mutation verb %s-%s escalated", parsed.Verb, parsed.Noun))
		a.Verb, a.Noun = parsed.Verb, parsed.Noun
		return a
	}

	// Layer 8: unknown; hand to the learning pipeline off the hot path.
	if c.recorder != nil {
		go c.recorder.RecordUnknown(command, sessionID)
	}
	a := newAssessment(LevelUnknown, "no rule matched; confirmation required")
	a.Verb, a.Noun = parsed.Verb, parsed.Noun
	return a
}

// safeWithEscalation keeps a safe match subject to the escalation table so a
// later layer never lowers severity below what the switches demand.
func (c *Classifier) safeWithEscalation(parsed parsedCommand, matched string) Assessment {
	level := LevelSafe
	if esc := escalate(parsed); rank(esc) > rank(level) {
		level = esc
	}
	reason := "matched safe pattern: " + matched
	if level != LevelSafe {
		reason = "safe pattern escalated by switches: " + matched
	}
	a := newAssessment(level, reason, matched)
	a.Verb, a.Noun = parsed.Verb, parsed.Noun
	return a
}

func rank(l Level) int {
	switch l {
	case LevelSafe:
		return 0
	case LevelUnknown:
		return 1
	case LevelRisky:
		return 2
	case LevelDangerous:
		return 3
	case LevelCritical:
		return 4
	case LevelBlocked:
		return 4
	default:
		return 1
	}
}
