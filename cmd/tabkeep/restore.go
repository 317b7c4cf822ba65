package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"pkt.systems/tabkeep"
	"pkt.systems/tabkeep/schema"
)

func newRestoreCmd() *cobra.Command {
	var keepIncognito bool
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a window from the state directory and print its tabs",
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
			if keepIncognito {
				storeCfg.IgnoreIncognitoOnStart = false
			}
			w, err := tabkeep.Open(s.ctx, storeCfg, tabkeep.WindowDeps{})
			if err != nil {
				return err
			}
			snapshot, err := w.Restore(s.ctx)
			closeErr := w.Close(context.Background(), false)
			if err != nil {
				return err
			}
			if closeErr != nil {
				return closeErr
			}
			return printSnapshot(cmd.OutOrStdout(), snapshot)
		},
	}
	cmd.Flags().Int("window", 0, "window index (defaults to window_index from config)")
	cmd.Flags().BoolVar(&keepIncognito, "keep-incognito", false, "try to restore incognito tabs")
	return cmd
}

func printSnapshot(out io.Writer, snapshot schema.WindowSnapshot) error {
	if _, err := fmt.Fprintf(out, "window %d: %d normal, %d incognito\n",
		snapshot.Window, len(snapshot.Normal.Tabs), len(snapshot.Incognito.Tabs)); err != nil {
		return err
	}
	for _, model := range []schema.ModelSnapshot{snapshot.Normal, snapshot.Incognito} {
		if len(model.Tabs) == 0 {
			continue
		}
		name := "normal"
		if model.Incognito {
			name = "incognito"
		}
		if _, err := fmt.Fprintln(out, name); err != nil {
			return err
		}
		for _, tab := range model.Tabs {
			marker := " "
			if tab.Active {
				marker = "*"
			}
			if _, err := fmt.Fprintf(out, "  %s [%d] %s\n", marker, tab.ID, tab.URL); err != nil {
				return err
			}
		}
	}
	return nil
}
