package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/tabkeep/internal/appconfig"
	"pkt.systems/tabkeep/internal/persist"
	"pkt.systems/tabkeep/schema"
)

func newDoctorCmd() *cobra.Command {
	var lockTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the state directory, preferences and metadata files",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			s.log.Info("doctor start", "config", s.configPath)
			problems := runDoctor(s.ctx, s.cfg, cmd.OutOrStdout(), lockTimeout)
			if problems > 0 {
				return fmt.Errorf("doctor found %d problems", problems)
			}
			s.log.Info("doctor complete")
			return nil
		},
	}
	cmd.Flags().DurationVar(&lockTimeout, "lock-timeout", 2*time.Second, "how long to wait for the state directory lock")
	return cmd
}

type doctorReport struct {
	out      io.Writer
	problems int
}

func (r *doctorReport) ok(format string, args ...any) {
	fmt.Fprintf(r.out, "ok    "+format+"\n", args...)
}

func (r *doctorReport) warn(format string, args ...any) {
	fmt.Fprintf(r.out, "warn  "+format+"\n", args...)
}

func (r *doctorReport) fail(format string, args ...any) {
	r.problems++
	fmt.Fprintf(r.out, "fail  "+format+"\n", args...)
}

// runDoctor prints one line per check and returns the number of failures.
func runDoctor(ctx context.Context, cfg appconfig.Config, out io.Writer, lockTimeout time.Duration) int {
	logger := pslog.Ctx(ctx)
	report := &doctorReport{out: out}
	storeCfg, err := cfg.StoreConfig()
	if err != nil {
		report.fail("config: %v", err)
		return report.problems
	}
	stateDir := filepath.Join(storeCfg.StateDir, persist.StateDirName)

	probe := filepath.Join(stateDir, ".doctor-probe")
	if err := persist.WriteFileAtomic(probe, []byte("ok"), logger); err != nil {
		report.fail("state dir %s not writable: %v", stateDir, err)
		return report.problems
	}
	_ = persist.RemoveFile(probe)
	report.ok("state dir %s writable", stateDir)

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	unlock, err := persist.LockDir(lockCtx, storeCfg.StateDir)
	cancel()
	switch {
	case errors.Is(err, schema.ErrMigrationLocked):
		report.warn("state dir locked by another process")
	case err != nil:
		report.fail("state dir lock: %v", err)
	default:
		unlock()
		report.ok("state dir lock available")
	}

	prefs, err := persist.OpenPrefs(filepath.Join(storeCfg.StateDir, persist.PrefsFileName), logger).Load()
	if err != nil {
		report.fail("preferences unreadable: %v", err)
	} else {
		report.ok("preferences: file migration %t, multi-instance migration %t, assassin attempts %d",
			prefs.FileMigrationDone, prefs.MultiInstanceMigrationDone, prefs.AssassinAttempts)
		if prefs.DocumentModeEnabled {
			report.warn("document mode still enabled; run tabkeep migrate")
		}
	}

	referenced := make(map[schema.TabID]struct{})
	for window := 0; window < storeCfg.MaxWindows; window++ {
		path := filepath.Join(stateDir, persist.MetadataFileName(window))
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				report.fail("window %d metadata unreadable: %v", window, err)
			}
			continue
		}
		state, err := persist.DecodeMetadata(data)
		if err != nil {
			report.fail("window %d metadata corrupt: %v", window, err)
			continue
		}
		for _, id := range state.IDs() {
			referenced[id] = struct{}{}
		}
		report.ok("window %d: %d tabs (metadata version %d)", window, len(state.Entries), state.Version)
	}

	entries, err := os.ReadDir(stateDir)
	if err != nil {
		report.fail("state dir unreadable: %v", err)
		return report.problems
	}
	var files, unreferenced int
	for _, entry := range entries {
		id, _, ok := persist.ParseTabStateFileName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		files++
		if _, ok := referenced[id]; !ok {
			unreferenced++
		}
	}
	if unreferenced > 0 {
		report.warn("%d of %d tab state files unreferenced; run tabkeep cleanup", unreferenced, files)
	} else {
		report.ok("%d tab state files", files)
	}
	return report.problems
}
