package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
)

var lockNameRe = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func defaultLockDir() string {
	return filepath.Join(os.TempDir(), "batchkit-locks")
}

func lockFile(dir, name string) (*flock.Flock, error) {
	if dir == "" {
		dir = defaultLockDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return flock.New(filepath.Join(dir, lockNameRe.ReplaceAllString(name, "_")+".lock")), nil
}

// lockJob serializes run id allocation for one job name across processes.
func lockJob(ctx context.Context, dir, jobName string) (*flock.Flock, error) {
	fl, err := lockFile(dir, jobName)
	if err != nil {
		return nil, err
	}
	ok, err := fl.TryLockContext(ctx, 20*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("lock job %s: %w", jobName, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock job %s: not acquired", jobName)
	}
	return fl, nil
}

// tryLockRun takes the lock held for the whole execution of one job instance.
// It reports false when another execution holds it.
func tryLockRun(dir, jobName string, runID int64) (*flock.Flock, bool, error) {
	fl, err := lockFile(dir, fmt.Sprintf("%s-run-%d", jobName, runID))
	if err != nil {
		return nil, false, err
	}
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, err
	}
	return fl, ok, nil
}
