package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/tabkeep"
)

func newCleanupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete tab state files no window references",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := applyWindowFlag(cmd, &s.cfg); err != nil {
				return err
			}
			storeCfg, err := s.cfg.StoreConfig()
			if err != nil {
				return err
			}
			w, err := tabkeep.Open(s.ctx, storeCfg, tabkeep.WindowDeps{})
			if err != nil {
				return err
			}
			names, err := w.Cleanup(s.ctx, dryRun)
			closeErr := w.Close(context.Background(), false)
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			verb := "deleted"
			if dryRun {
				verb = "unused"
			}
			out := cmd.OutOrStdout()
			for _, name := range names {
				if _, err := fmt.Fprintf(out, "%s %s\n", verb, name); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(out, "%d files %s\n", len(names), verb)
			return err
		},
	}
	cmd.Flags().Int("window", 0, "window index (defaults to window_index from config)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "list unused files without deleting them")
	return cmd
}
