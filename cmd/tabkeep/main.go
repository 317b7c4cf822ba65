package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"pkt.systems/psi"
	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/appconfig"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)
	log.SetOutput(pslog.LogLogger(logger).Writer())
	log.SetFlags(0)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])

	if err := root.ExecuteContext(ctx); err != nil {
		pslog.Ctx(ctx).With("err", err).Error("tabkeep command failed")
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tabkeep",
		Short:         "Inspect, restore and maintain persisted browser tab state",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	root.AddCommand(newInspectCmd())
	root.AddCommand(newRestoreCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	return root
}

// session is the loaded config plus the logger commands should use.
type session struct {
	cfg        appconfig.Config
	configPath string
	ctx        context.Context
	log        pslog.Logger
	closer     io.Closer
}

func (s *session) Close() {
	if s.closer != nil {
		_ = s.closer.Close()
	}
}

// openSession loads the config named by --config and, when a log file is
// configured, tees the command logger into it.
func openSession(cmd *cobra.Command) (*session, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := appconfig.Load(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		if path, err = appconfig.DefaultConfigPath(); err != nil {
			return nil, err
		}
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s := &session{cfg: cfg, configPath: path, ctx: ctx, log: pslog.Ctx(ctx)}
	if cfg.Logging.File != "" {
		logger, closer := fileLogger(cfg.Logging)
		s.log = logger
		s.closer = closer
		s.ctx = pslog.ContextWithLogger(ctx, logger)
	}
	return s, nil
}

// applyWindowFlag overrides the configured window index when --window was given.
func applyWindowFlag(cmd *cobra.Command, cfg *appconfig.Config) error {
	if !cmd.Flags().Changed("window") {
		return nil
	}
	window, err := cmd.Flags().GetInt("window")
	if err != nil {
		return err
	}
	cfg.WindowIndex = window
	return nil
}
