//go:build !unix

package persist

import (
	"context"
	"os"
)

// LockDir only ensures dir exists; advisory locks are unix-only.
func LockDir(_ context.Context, dir string) (func(), error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return func() {}, nil
}
