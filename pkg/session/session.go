// Package session carries the active task identity across backup calls.
//
// Editors ask for a task number once and reuse it for every following
// save; building an archive ends that working session. Session makes that
// lifecycle explicit: the caller owns the object, passes its task id into
// each backup, and resets it after a successful archive build. There is no
// process-global task state.
package session

import (
	"github.com/google/uuid"

	"github.com/h4ckmm3/save-backup/pkg/plog"
)

// Session identifies one working session and its active task.
type Session struct {
	id   string
	task string
}

// New starts a session with no active task.
func New() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session's unique identity, used to correlate log lines.
func (s *Session) ID() string {
	return s.id
}

// Task returns the active task id, or "" when none is set.
func (s *Session) Task() string {
	return s.task
}

// SetTask sets the active task id. An empty id clears it.
func (s *Session) SetTask(taskID string) {
	s.task = taskID
	plog.Debug("Session task set", "session", s.id, "task", taskID)
}

// ResetTask clears the active task. Called after a successful archive
// build, which ends the working session on that task.
func (s *Session) ResetTask() {
	if s.task == "" {
		return
	}
	plog.Debug("Session task reset", "session", s.id, "task", s.task)
	s.task = ""
}
