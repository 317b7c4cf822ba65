package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/tabkeep/internal/version"
)

func newVersionCmd() *cobra.Command {
	var (
		asYAML bool
		short  bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Current())
				return err
			}
			report := version.Describe()
			if asYAML {
				data, err := yaml.Marshal(report)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return err
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print the report as YAML")
	cmd.Flags().BoolVar(&short, "short", false, "print only the version")
	return cmd
}
