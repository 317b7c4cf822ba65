package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/tabkeep/internal/migrate"
	"pkt.systems/tabkeep/internal/persist"
)

func newMigrateCmd() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run outstanding layout migrations and the document-mode migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			storeCfg, err := s.cfg.StoreConfig()
			if err != nil {
				return err
			}
			policy, err := persist.NewPolicy(persist.PolicyDeps{
				BaseDir:    storeCfg.StateDir,
				Window:     storeCfg.Window,
				MaxWindows: storeCfg.MaxWindows,
				Logger:     s.log,
			})
			if err != nil {
				return err
			}
			assassin, err := migrate.New(migrate.Deps{
				LegacyDir:   storeCfg.DocumentDir,
				Policy:      policy,
				MaxAttempts: storeCfg.MaxMigrationAttempts,
				Logger:      s.log,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			layout, err := policy.NeedsMigration()
			if err != nil {
				return err
			}
			documents, err := assassin.IsMigrationNecessary()
			if err != nil {
				return err
			}
			if check {
				_, err := fmt.Fprintf(out, "layout migration needed: %t\ndocument migration needed: %t\n", layout, documents)
				return err
			}

			if layout {
				if err := policy.Migrate(s.ctx); err != nil {
					return fmt.Errorf("layout migration: %w", err)
				}
				if _, err := fmt.Fprintln(out, "layout migration done"); err != nil {
					return err
				}
			}
			if documents {
				result, err := assassin.Migrate(s.ctx)
				if err != nil {
					return fmt.Errorf("document migration at stage %s: %w", assassin.Stage(), err)
				}
				if _, err := fmt.Fprintf(out, "document migration done: %d tabs listed, %d state files copied, without data: %t\n",
					result.Listed, result.Copied, result.WithoutData); err != nil {
					return err
				}
			}
			if !layout && !documents {
				_, err := fmt.Fprintln(out, "nothing to migrate")
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "only report which migrations are outstanding")
	return cmd
}
