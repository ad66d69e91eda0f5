// Package killswitch provides the operator halt signal read at the start of
// every cycle.
package killswitch

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// Switch reports whether trading must halt and why.
type Switch interface {
	Engaged() (bool, string)
}

// File is engaged while a file exists at its path. The first line of the
// file, if any, is the reason. An unreadable path counts as engaged.
type File struct {
	path string
}

var _ Switch = (*File)(nil)

// NewFile creates a file switch.
func NewFile(path string) *File {
	return &File{path: path}
}

// Engaged implements Switch.
func (f *File) Engaged() (bool, string) {
	if f.path == "" {
		return false, ""
	}
	fh, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, ""
	}
	if err != nil {
		return true, fmt.Sprintf("kill switch %s unreadable: %v", f.path, err)
	}
	defer fh.Close()

	reason := "kill file present: " + f.path
	sc := bufio.NewScanner(fh)
	if sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			reason = line
		}
	}
	return true, reason
}

// Engage creates the kill file with a reason.
func (f *File) Engage(reason string) error {
	if err := os.WriteFile(f.path, []byte(reason+"\n"), 0o600); err != nil {
		return fmt.Errorf("engage kill switch: %w", err)
	}
	return nil
}

// Release removes the kill file.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("release kill switch: %w", err)
	}
	return nil
}

// Static is an in-process switch, engaged by code (tests, the status
// endpoint, repeated failures).
type Static struct {
	mu     sync.RWMutex
	active bool
	reason string
}

var _ Switch = (*Static)(nil)

// Engaged implements Switch.
func (s *Static) Engaged() (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, s.reason
}

// Set engages or releases the switch.
func (s *Static) Set(active bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = active
	s.reason = reason
	if !active {
		s.reason = ""
	}
}

// Any is engaged when any of its switches is; the first engaged one gives
// the reason.
type Any []Switch

// Engaged implements Switch.
func (a Any) Engaged() (bool, string) {
	for _, s := range a {
		if s == nil {
			continue
		}
		if on, reason := s.Engaged(); on {
			return true, reason
		}
	}
	return false, ""
}
