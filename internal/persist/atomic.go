package persist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"
)

// WriteFileAtomic writes data to path through a synced temp file and rename.
// A failed write leaves no partial file behind.
func WriteFileAtomic(path string, data []byte, logger pslog.Logger) error {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("write path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		logger.Warn("persist write failed", "path", path, "err", err)
		return err
	}
	logger.Trace("persist write ok", "path", path, "bytes", len(data))
	return nil
}

// RemoveFile deletes path, treating a missing file as success.
func RemoveFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isTempFile(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
}
