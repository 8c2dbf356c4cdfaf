package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hellblazer/hal-9000/internal/orcherr"
	"github.com/hellblazer/hal-9000/internal/sharedservices"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Control the orchestrator parent process",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run Parent Bootstrap and leave the parent running",
	RunE:  runDaemonStart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print daemon and pool status",
	RunE:  runDaemonStatus,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Gracefully stop the parent and its warm pool",
	RunE:  runDaemonStop,
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStatusCmd, daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	if _, running := a.boot.RunningPID(); running {
		return orcherr.New(orcherr.Conflict, "daemon.start", fmt.Errorf("hal9000d is already running"))
	}
	if err := a.boot.Run(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "hal9000d started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	_ = os.Remove(a.boot.MarkerPath())
	fmt.Fprintln(cmd.OutOrStdout(), "shutting down")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	pid, running := a.boot.RunningPID()
	if !running {
		return orcherr.New(orcherr.NotFound, "daemon.status", fmt.Errorf("hal9000d is not running"))
	}
	st, err := a.pool.Status()
	if err != nil {
		return err
	}
	health := sharedservices.StateFailed
	probeCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
	if a.shared.WaitReady(probeCtx) == nil {
		health = a.shared.State()
	}
	cancel()
	fmt.Fprintf(cmd.OutOrStdout(), "running pid=%d vector_index_health=%s warm=%d claimed=%d busy=%d idle=%d\n",
		pid, health, st.Warm, st.Claimed, st.Busy, st.Idle)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	pid, running := a.boot.RunningPID()
	if !running {
		fmt.Fprintln(cmd.OutOrStdout(), "hal9000d is not running")
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return orcherr.New(orcherr.Internal, "daemon.stop", err)
	}
	for deadline := time.Now().Add(10 * time.Second); time.Now().Before(deadline); time.Sleep(200 * time.Millisecond) {
		if _, stillRunning := a.boot.RunningPID(); !stillRunning {
			break
		}
	}
	_ = os.Remove(a.boot.MarkerPath())
	fmt.Fprintln(cmd.OutOrStdout(), "hal9000d stopped")
	return nil
}
