package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gopsprocess "github.com/shirou/gopsutil/v4/process"

	"blockyard/internal/domain"
)

// LockFileName marks a working directory as owned by a live supervisor.
const LockFileName = ".blockyard.lock"

type dirLock struct {
	path string
	once sync.Once
}

// acquireLock creates the lock file exclusively. A lock left behind by a
// process that no longer exists is reclaimed.
func acquireLock(dir string) (*dirLock, error) {
	path := filepath.Join(dir, LockFileName)
	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Join(werr, cerr)
			}
			return &dirLock{path: path}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}

		owner, alive := lockOwner(path)
		if alive {
			return nil, fmt.Errorf("%w: %s is locked by pid %d", domain.ErrAlreadyRunning, dir, owner)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: could not lock %s", domain.ErrAlreadyRunning, dir)
}

func lockOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	exists, err := gopsprocess.PidExists(int32(pid))
	if err != nil {
		// Unknown liveness keeps the lock.
		return pid, true
	}
	return pid, exists
}

func (l *dirLock) release() {
	if l == nil {
		return
	}
	l.once.Do(func() { _ = os.Remove(l.path) })
}
