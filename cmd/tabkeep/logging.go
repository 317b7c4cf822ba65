package main

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/appconfig"
)

// fileLogger writes to stderr and a size-rotated log file.
func fileLogger(cfg appconfig.LoggingConfig) (pslog.Logger, io.Closer) {
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(io.MultiWriter(os.Stderr, rotator)),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, NoColor: true}),
	)
	return logger, rotator
}
