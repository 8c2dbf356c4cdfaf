package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Control the warm-worker pool",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print warm-worker pool counts",
	RunE:  runPoolStatus,
}

var poolScaleCmd = &cobra.Command{
	Use:   "scale <min> [max]",
	Short: "Change the pool's min/max warm targets",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runPoolScale,
}

var poolCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one reconcile/scale-up/scale-down/reap pass immediately",
	RunE:  runPoolCleanup,
}

var poolStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pool manager (runs inside `daemon start`)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "the pool manager runs inside the daemon process; use `daemon start`")
		return nil
	},
}

var poolStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the pool manager (stops with `daemon start`'s process)",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), "the pool manager stops with the daemon process; use `daemon stop`")
		return nil
	},
}

func init() {
	poolCmd.AddCommand(poolStartCmd, poolStopCmd, poolStatusCmd, poolScaleCmd, poolCleanupCmd)
	rootCmd.AddCommand(poolCmd)
}

func runPoolStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	st, err := a.api.PoolStatus()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "warm=%d claimed=%d busy=%d idle=%d\n", st.Warm, st.Claimed, st.Busy, st.Idle)
	return nil
}

func runPoolScale(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	min, err := parsePositiveInt(args[0])
	if err != nil {
		return err
	}
	max := min
	if len(args) == 2 {
		max, err = parsePositiveInt(args[1])
		if err != nil {
			return err
		}
	}
	a.api.PoolScale(min, max)
	fmt.Fprintf(cmd.OutOrStdout(), "pool scaled: min=%d max=%d\n", min, max)
	return nil
}

func runPoolCleanup(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	return a.pool.Tick(cmd.Context())
}

func parsePositiveInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("value must not be negative: %d", n)
	}
	return n, nil
}
