// Package session tracks one working session's lifetime: the correlation
// key new memories carry, the files the session touched, and the operation
// counters archived when the session ends.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bao243092078-crypto/memory-anchor/internal/model"
)

// Lifecycle is the slice of the Kernel a Tracker needs: emit the start
// event and archive the final state. Satisfied by *kernel.Kernel.
type Lifecycle interface {
	StartSession(sessionID string) model.SessionState
	EndSession(ctx context.Context, state model.SessionState, summary string) error
}

// Tracker accumulates one session's counters. All methods are safe for
// concurrent use; agents record memory ops and file mods from whatever
// goroutine performed them.
type Tracker struct {
	mu    sync.Mutex
	k     Lifecycle
	state model.SessionState
	files map[string]struct{}
	ended bool
}

// Start opens a new session, generating a session id when the caller has
// none, and emits session.started.
func Start(k Lifecycle, sessionID string) *Tracker {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Tracker{
		k:     k,
		state: k.StartSession(sessionID),
		files: map[string]struct{}{},
	}
}

// ID returns the session's correlation key.
func (t *Tracker) ID() string {
	return t.state.SessionID
}

// RecordMemoryOp counts one memory operation against the session.
func (t *Tracker) RecordMemoryOp() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.MemoryOpsCount++
}

// RecordFileMod counts one file modification and adds path to the session's
// touched-file set. Repeat paths count as mods but dedupe in the set.
func (t *Tracker) RecordFileMod(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.FileModsCount++
	t.files[path] = struct{}{}
}

// State returns a copy of the session's current counters.
func (t *Tracker) State() model.SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() model.SessionState {
	s := t.state
	s.SourceFiles = make([]string, 0, len(t.files))
	for f := range t.files {
		s.SourceFiles = append(s.SourceFiles, f)
	}
	return s
}

// End archives the session and emits session.ended. A second End is a no-op
// so deferred cleanup paths can call it unconditionally.
func (t *Tracker) End(ctx context.Context, summary string) error {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return nil
	}
	t.ended = true
	now := time.Now().UTC()
	t.state.EndedAt = &now
	state := t.snapshotLocked()
	t.mu.Unlock()

	return t.k.EndSession(ctx, state, summary)
}
