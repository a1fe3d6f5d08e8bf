package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// StampLayout is the timestamp layout used in artifact names. It sorts
// lexically and contains no characters that are awkward in file names.
const StampLayout = "2006-01-02T15-04-05.000Z"

const lockName = ".probekit.lock"

// dirLock is an exclusive lock on an output directory, held while a run
// picks its artifact names and writes them.
type dirLock struct {
	fl *flock.Flock
}

func lockDir(dir string) (*dirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, lockName))
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock output dir %s: %w", dir, err)
	}
	return &dirLock{fl: fl}, nil
}

func (l *dirLock) unlock() {
	_ = l.fl.Unlock()
}

// stampFor returns a stamp for t whose report file does not exist in dir
// yet, moving forward a millisecond at a time on collision.
func stampFor(dir string, t time.Time) string {
	t = t.UTC().Truncate(time.Millisecond)
	for {
		stamp := t.Format(StampLayout)
		if _, err := os.Stat(filepath.Join(dir, "report-"+stamp+".json")); os.IsNotExist(err) {
			return stamp
		}
		t = t.Add(time.Millisecond)
	}
}

// atomicWrite writes data to path through a temp file in the same directory
// and a rename, so readers never observe a partial artifact.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	tmp = nil
	return nil
}
