package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"hive/internal/store"
)

// LockFileName is the advisory lock created at the store root.
const LockFileName = ".hive.lock"

type fileLock struct {
	path    string
	timeout time.Duration
	poll    time.Duration
}

// acquire creates the lock file exclusively and stamps it with a token unique
// to this acquisition. A lock older than the timeout is treated as abandoned
// by a crashed holder and reaped.
func (l fileLock) acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)
	for {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = file.WriteString(strconv.Itoa(os.Getpid()) + " " + time.Now().UTC().Format(time.RFC3339Nano) + " " + token + "\n")
			_ = file.Close()
			return func() { l.release(token) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if age, ok := l.age(); ok && age > l.timeout {
			if l.reap(token) {
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%s held for more than %s: %w", l.path, l.timeout, store.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// reap moves a stale lock aside under a name only this caller uses, so two
// pollers racing on the same stale lock cannot remove each other's fresh one.
// A lock that turns out to be fresh once moved is put back.
func (l fileLock) reap(token string) bool {
	aside := l.path + ".stale-" + token
	if err := os.Rename(l.path, aside); err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	info, err := os.Stat(aside)
	if err == nil && time.Since(info.ModTime()) <= l.timeout {
		// Another poller reaped first and this is its live lock.
		_ = os.Link(aside, l.path)
		_ = os.Remove(aside)
		return false
	}
	_ = os.Remove(aside)
	return true
}

// release removes the lock only while it still carries token. A holder that
// outlived the timeout and was reaped leaves the new holder's lock alone.
func (l fileLock) release(token string) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 || fields[len(fields)-1] != token {
		return
	}
	_ = os.Remove(l.path)
}

// age reports how long the current lock file has existed.
func (l fileLock) age() (time.Duration, bool) {
	info, err := os.Stat(l.path)
	if err != nil {
		return 0, false
	}
	return time.Since(info.ModTime()), true
}
