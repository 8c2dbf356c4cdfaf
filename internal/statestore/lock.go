package statestore

import (
	"fmt"

	"github.com/gofrs/flock"
)

// fileLock is the per-file sidecar lock from the design notes: a `.lock`
// file created with an exclusive OS-level flock, released on the request or
// tick boundary (RAII-style, via Unlock).
type fileLock struct {
	fl *flock.Flock
}

func acquireLock(path string) (*fileLock, error) {
	fl := flock.New(path + ".lock")
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &fileLock{fl: fl}, nil
}

func (l *fileLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
