package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/psgate/psgate/internal/classify"
	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/learning"
	"github.com/psgate/psgate/internal/output"
	"github.com/psgate/psgate/internal/patterns"
)

var levelStyles = map[classify.Level]lipgloss.Style{
	classify.LevelSafe:      lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
	classify.LevelRisky:     lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
	classify.LevelUnknown:   lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
	classify.LevelDangerous: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	classify.LevelCritical:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	classify.LevelBlocked:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

var classifyCmd = &cobra.Command{
	Use:   "classify <command>",
	Short: "Classify a command without running it",
	Long: `Classifies a command against the built-in and learned pattern
groups, printing the assessment the gateway would produce. The learned-safe
list from the configured data directory is loaded first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		store := patterns.NewStore()
		// Load persisted learned-safe promotions so offline classification
		// matches the running gateway.
		if _, err := learning.NewPipeline(learning.PipelineOptions{
			DataDir: cfg.General.DataDir,
			Secret:  cfg.Learning.Secret,
		}, store); err != nil {
			return err
		}

		classifier := classify.New(store, nil)
		command := strings.Join(args, " ")
		assessment := classifier.Classify(command, "")

		if outputFormat() != output.FormatText {
			return newWriter().Write(assessment)
		}

		style, ok := levelStyles[assessment.Level]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Printf("%s  %s\n", style.Render(string(assessment.Level)), assessment.Reason)
		if len(assessment.MatchedPatterns) > 0 {
			fmt.Printf("  matched: %s\n", strings.Join(assessment.MatchedPatterns, ", "))
		}
		if assessment.Verb != "" {
			fmt.Printf("  verb-noun: %s-%s\n", assessment.Verb, assessment.Noun)
		}
		switch {
		case assessment.Blocked:
			fmt.Println("  disposition: deny")
		case assessment.RequiresConfirmation:
			fmt.Println("  disposition: require confirmation")
		default:
			fmt.Println("  disposition: execute directly")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}
