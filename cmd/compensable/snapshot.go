package main

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/compensable"
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored snapshots",
		Long:  `List, inspect, render and remove workflow instance snapshots.`,
	}
	cmd.AddCommand(
		newSnapshotLsCmd(),
		newSnapshotShowCmd(),
		newSnapshotSummaryCmd(),
		newSnapshotDotCmd(),
		newSnapshotRmCmd(),
	)
	return cmd
}

func newSnapshotLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List all stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := getStore(cmd)
			if err != nil {
				return err
			}
			ids, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing snapshots: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(ids) == 0 {
				fmt.Fprintln(out, "No snapshots found.")
				return nil
			}
			fmt.Fprintln(out, "Snapshots:")
			for _, id := range ids {
				fmt.Fprintln(out, "- "+id)
			}
			return nil
		},
	}
}

func newSnapshotShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Print a snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling snapshot: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newSnapshotSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <instance-id>",
		Short: "Print the tracked units of a snapshot in undo order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cmd, args[0])
			if err != nil {
				return err
			}

			states := make(map[compensable.UnitID]compensable.UnitSnapshot, len(snap.Units))
			for _, us := range snap.Units {
				states[us.ID] = us
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Instance %s (taken %s)\n", snap.ID, snap.TakenAt.Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Tracked units, next to undo first (%d):\n", len(snap.Tracker))
			for i, id := range snap.Tracker {
				us := states[id]
				fmt.Fprintf(out, "%3d. %s %-12s %s handles=%d\n", i+1, id, us.State, us.Kind, us.Handles.Len())
			}
			if untracked := len(snap.Units) - len(snap.Tracker); untracked > 0 {
				fmt.Fprintf(out, "Scheduled but not started: %d\n", untracked)
			}
			return nil
		},
	}
}

func newSnapshotDotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dot <instance-id>",
		Short: "Render the unit scopes of a snapshot as Graphviz DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := loadSnapshot(cmd, args[0])
			if err != nil {
				return err
			}
			g, err := compensable.ScopeGraph(*snap)
			if err != nil {
				return fmt.Errorf("building scope graph: %w", err)
			}
			dot, err := g.ExportToDot()
			if err != nil {
				return fmt.Errorf("rendering graph: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dot)
			return nil
		},
	}
}

func newSnapshotRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <instance-id>...",
		Short: "Remove one or more snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := getStore(cmd)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("removing snapshot '%s': %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", id)
			}
			return nil
		},
	}
}

func loadSnapshot(cmd *cobra.Command, id string) (*compensable.Snapshot, error) {
	store, err := getStore(cmd)
	if err != nil {
		return nil, err
	}
	snap, err := store.Load(cmd.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot '%s': %w", id, err)
	}
	return snap, nil
}
