package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var spawnProfile string

var spawnCmd = &cobra.Command{
	Use:   "spawn <project-path>",
	Short: "Spawn or reuse a session bound to a project directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runSpawn,
}

func init() {
	spawnCmd.Flags().StringVar(&spawnProfile, "profile", "base", "worker image profile (base, python, node, java)")
	rootCmd.AddCommand(spawnCmd)
}

func runSpawn(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	res, err := a.api.SpawnSession(cmd.Context(), args[0], spawnProfile)
	if err != nil {
		return err
	}
	verb := "spawned"
	if res.Reused {
		verb = "reused"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s session %s worker %s\n", verb, res.Session.ID, res.Worker.Name)
	return nil
}
