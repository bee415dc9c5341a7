package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/learning"
	"github.com/psgate/psgate/internal/output"
	"github.com/psgate/psgate/internal/patterns"
)

var (
	flagLearnLimit    int
	flagLearnMinCount int
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Inspect and manage the learning pipeline",
}

var learnListCmd = &cobra.Command{
	Use:   "list",
	Short: "List aggregated unknown-command candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := openPipeline()
		if err != nil {
			return err
		}
		aggs, err := pipeline.Aggregate()
		if err != nil {
			return err
		}
		if flagLearnLimit > 0 && len(aggs) > flagLearnLimit {
			aggs = aggs[:flagLearnLimit]
		}
		if outputFormat() != output.FormatText {
			return newWriter().Write(aggs)
		}
		for _, a := range aggs {
			fmt.Printf("%4d  %s  (sessions=%d, last=%s)\n",
				a.Count, a.Normalized, a.DistinctSessions, a.LastSeen.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var learnRecommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Score candidates for promotion",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := openPipeline()
		if err != nil {
			return err
		}
		recs, err := pipeline.Recommend(flagLearnLimit, flagLearnMinCount)
		if err != nil {
			return err
		}
		if outputFormat() != output.FormatText {
			return newWriter().Write(recs)
		}
		for _, r := range recs {
			fmt.Printf("%6.2f  %s\n        %s\n", r.Score, r.Normalized, r.Rationale)
		}
		return nil
	},
}

var learnQueueCmd = &cobra.Command{
	Use:   "queue [normalized...]",
	Short: "Queue normalized forms for approval, or list the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := openPipeline()
		if err != nil {
			return err
		}
		if len(args) > 0 {
			if err := pipeline.Queue(args); err != nil {
				return err
			}
		}
		queue, err := pipeline.ListQueue()
		if err != nil {
			return err
		}
		if outputFormat() != output.FormatText {
			return newWriter().Write(queue)
		}
		for _, e := range queue {
			fmt.Printf("%s  (queued %dx, source=%s)\n", e.Normalized, e.TimesQueued, e.Source)
		}
		return nil
	},
}

var learnApproveCmd = &cobra.Command{
	Use:   "approve <normalized...>",
	Short: "Promote normalized forms to learned-safe patterns",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := openPipeline()
		if err != nil {
			return err
		}
		approved, err := pipeline.Approve(args)
		if err != nil {
			return err
		}
		if outputFormat() != output.FormatText {
			return newWriter().Write(approved)
		}
		for _, a := range approved {
			fmt.Printf("approved: %s\n  pattern: %s\n", a.Normalized, a.Pattern)
		}
		if len(approved) == 0 {
			fmt.Println("nothing to approve (already promoted?)")
		}
		return nil
	},
}

var learnRemoveCmd = &cobra.Command{
	Use:   "remove <normalized...>",
	Short: "Remove normalized forms from the approval queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pipeline, err := openPipeline()
		if err != nil {
			return err
		}
		removed, err := pipeline.RemoveFromQueue(args)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d from queue\n", removed)
		return nil
	},
}

func openPipeline() (*learning.Pipeline, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	return learning.NewPipeline(learning.PipelineOptions{
		DataDir: cfg.General.DataDir,
		Secret:  cfg.Learning.Secret,
	}, patterns.NewStore())
}

func init() {
	learnCmd.PersistentFlags().IntVar(&flagLearnLimit, "limit", 20, "maximum entries to show")
	learnRecommendCmd.Flags().IntVar(&flagLearnMinCount, "min-count", 2, "minimum sightings to recommend")
	learnCmd.AddCommand(learnListCmd, learnRecommendCmd, learnQueueCmd, learnApproveCmd, learnRemoveCmd)
	rootCmd.AddCommand(learnCmd)
}
