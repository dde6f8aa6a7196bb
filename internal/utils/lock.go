package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFileSuffix = ".lock"

// ErrLocked is returned by a non-blocking Lock when another process holds the
// lock.
var ErrLocked = errors.New("database is locked by another process")

// DBLock serializes writers of one SQLite database across processes.
type DBLock struct {
	lock *flock.Flock
	path string
}

// NewDBLock creates a new lock for the given database path.
func NewDBLock(dbPath string) (*DBLock, error) {
	absPath, err := GetAbsDBPath(dbPath)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute db path: %w", err)
	}
	lockPath := absPath + lockFileSuffix
	return &DBLock{
		lock: flock.New(lockPath),
		path: lockPath,
	}, nil
}

// Lock acquires the database lock. When wait is false and another process
// holds it, Lock returns ErrLocked instead of blocking.
func (l *DBLock) Lock(wait bool) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock on %s: %w", l.path, err)
	}
	if locked {
		return nil
	}
	if !wait {
		return ErrLocked
	}
	Log.Warnf("Another rankwatch sync is using %s, waiting for it to finish", l.path)
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("acquire lock on %s after waiting: %w", l.path, err)
	}
	return nil
}

// Path is the lock file location.
func (l *DBLock) Path() string { return l.path }

// Unlock releases the database lock.
func (l *DBLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("release lock on %s: %w", l.path, err)
	}
	return nil
}

// GetAbsDBPath resolves the database path, defaulting to
// ~/.config/rankwatch/rankwatch.sqlite.
func GetAbsDBPath(dbPath string) (string, error) {
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "rankwatch", "rankwatch.sqlite"), nil
	}
	return filepath.Abs(dbPath)
}
