package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/psgate/psgate/internal/config"
	"github.com/psgate/psgate/internal/gateway"
	"github.com/psgate/psgate/internal/output"
	"github.com/psgate/psgate/internal/rpc"
)

var (
	flagStatsVerbose bool
	flagAuthKey      string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Fetch the running gateway's metrics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		client := rpc.NewClient(socketPath(cfg.General.DataDir))
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()

		var resp gateway.StatsResponse
		err = client.Call(ctx, "serverStats", gateway.StatsArgs{
			CommonArgs: gateway.CommonArgs{AuthKey: flagAuthKey},
			Verbose:    flagStatsVerbose,
		}, &resp)
		if err != nil {
			return err
		}

		if outputFormat() != output.FormatText {
			return newWriter().Write(resp)
		}

		fmt.Printf("uptime: %ds  total: %d  blocked: %d  timeouts: %d  confirmRequired: %d\n",
			resp.UptimeSeconds, resp.Total, resp.Blocked, resp.Timeouts, resp.ConfirmationRequired)
		fmt.Printf("durations: n=%d mean=%.1fms p95=%.1fms\n",
			resp.DurationSamples, resp.AverageDurationMs, resp.P95DurationMs)
		for level, n := range resp.ByLevel {
			fmt.Printf("  %-10s %d\n", level, n)
		}
		if flagStatsVerbose {
			fmt.Printf("subscribers: %d  droppedEvents: %d  rateBuckets: %d\n",
				resp.Subscribers, resp.DroppedEvents, resp.RateBuckets)
		}
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the working-directory policy on a running gateway",
}

var policyGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the active policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		return callPolicy(cmd, gateway.PolicyArgs{
			CommonArgs: gateway.CommonArgs{AuthKey: flagAuthKey},
			Action:     "get",
		})
	},
}

var (
	flagPolicyEnabled bool
	flagPolicyRoots   []string
)

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Replace the active policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := flagPolicyEnabled
		return callPolicy(cmd, gateway.PolicyArgs{
			CommonArgs:   gateway.CommonArgs{AuthKey: flagAuthKey},
			Action:       "set",
			Enabled:      &enabled,
			AllowedRoots: flagPolicyRoots,
		})
	},
}

func callPolicy(cmd *cobra.Command, args gateway.PolicyArgs) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	client := rpc.NewClient(socketPath(cfg.General.DataDir))
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var resp map[string]any
	if err := client.Call(ctx, "workingDirectoryPolicy", args, &resp); err != nil {
		return err
	}
	return newWriter().Write(resp)
}

func init() {
	statsCmd.Flags().BoolVarP(&flagStatsVerbose, "verbose", "v", false, "include subscriber and ring details")
	rootCmd.PersistentFlags().StringVar(&flagAuthKey, "auth-key", "", "auth key for the running gateway")
	policySetCmd.Flags().BoolVar(&flagPolicyEnabled, "enabled", true, "enforce the allow-list")
	policySetCmd.Flags().StringSliceVar(&flagPolicyRoots, "roots", nil, "allowed root directories")
	policyCmd.AddCommand(policyGetCmd, policySetCmd)
	rootCmd.AddCommand(statsCmd, policyCmd)
}
