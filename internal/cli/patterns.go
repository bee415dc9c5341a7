package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psgate/psgate/internal/output"
	"github.com/psgate/psgate/internal/patterns"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect the built-in pattern groups",
}

var patternGroups = []patterns.Group{
	patterns.GroupCriticalAliases,
	patterns.GroupBlocked,
	patterns.GroupDangerous,
	patterns.GroupRisky,
	patterns.GroupSafe,
	patterns.GroupLearnedSafe,
}

var patternsListCmd = &cobra.Command{
	Use:   "list [group]",
	Short: "List patterns, optionally for one group",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := patterns.NewStore()
		snap := store.CurrentSnapshot()

		groups := patternGroups
		if len(args) == 1 {
			g := patterns.Group(args[0])
			if !g.Valid() {
				return fmt.Errorf("unknown group %q", args[0])
			}
			groups = []patterns.Group{g}
		}

		if outputFormat() != output.FormatText {
			payload := make(map[string][]map[string]string)
			for _, g := range groups {
				var rules []map[string]string
				for _, p := range snap.Patterns(g) {
					rules = append(rules, map[string]string{
						"name": p.Name, "expr": p.Expr, "source": p.Source,
					})
				}
				payload[string(g)] = rules
			}
			return newWriter().Write(payload)
		}

		for _, g := range groups {
			fmt.Printf("[%s]\n", g)
			for _, p := range snap.Patterns(g) {
				fmt.Printf("  %-28s %s\n", p.Name, p.Expr)
			}
		}
		return nil
	},
}

func init() {
	patternsCmd.AddCommand(patternsListCmd)
	rootCmd.AddCommand(patternsCmd)
}
