// ABOUTME: Session lifecycle service: start/resume, pause, complete, rename and guarded delete
// ABOUTME: Every committed transition emits a session event; emission failures never fail the call

package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/store"
)

// SessionStore defines what the service needs from storage
type SessionStore interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	FindPausedSession(ctx context.Context, name, projectPath string) (*store.Session, error)
	ListSessions(ctx context.Context, filter store.SessionFilter) ([]*store.Session, error)
	TransitionSession(ctx context.Context, id string, from []store.SessionStatus, to store.SessionStatus, now time.Time) (*store.Session, error)
	RenameSession(ctx context.Context, id, name string, description *string, now time.Time) (*store.Session, error)
	DeleteSession(ctx context.Context, id string) (*store.SessionDeletion, error)

	UpsertContextItem(ctx context.Context, in store.ItemUpsert, now time.Time) (*store.ContextItem, bool, error)
	UpdateContextItem(ctx context.Context, sessionID, key string, patch store.ItemPatch, now time.Time) (int64, error)
	DeleteContextItem(ctx context.Context, sessionID, key string) (int64, error)
	GetContextItem(ctx context.Context, sessionID, key string) (*store.ContextItem, error)
	ListContextItems(ctx context.Context, sessionID string, q store.ItemQuery) ([]*store.ContextItem, error)
}

// Notifier receives best-effort change events
type Notifier interface {
	Notify(ctx context.Context, topic string, payload any)
}

// Service owns the session state machine and the context item store
type Service struct {
	store  SessionStore
	events Notifier
	now    func() time.Time
	logger *slog.Logger
}

// New creates a session Service. Pass nil logger for default.
func New(st SessionStore, events Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With("component", "session"),
	}
}

// StartInput describes a session start
type StartInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Channel     string `json:"channel,omitempty"`
	ProjectPath string `json:"project_path,omitempty"`
	// ForceNew skips resuming a paused session with the same name and project
	ForceNew bool `json:"force_new,omitempty"`
}

// StartResult reports the session and whether an existing one was resumed
type StartResult struct {
	Session *store.Session `json:"session"`
	Resumed bool           `json:"resumed"`
}

// DeleteResult reports what a session delete removed
type DeleteResult struct {
	Removed            bool  `json:"removed"`
	ItemsDeleted       int64 `json:"items_deleted"`
	CheckpointsDeleted int64 `json:"checkpoints_deleted"`
}

// ListFilter narrows List results
type ListFilter struct {
	Status      store.SessionStatus
	ProjectPath string
	Limit       int
}

// Start creates a new active session, or resumes the most recent paused
// session with the same name and project path unless ForceNew is set.
func (s *Service) Start(ctx context.Context, in StartInput) (*StartResult, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, &InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}

	if !in.ForceNew {
		paused, err := s.store.FindPausedSession(ctx, name, in.ProjectPath)
		switch {
		case err == nil:
			sess, err := s.store.TransitionSession(ctx, paused.ID,
				[]store.SessionStatus{store.SessionPaused}, store.SessionActive, s.now())
			if err != nil {
				return nil, Classify("start session", "session", paused.ID, err)
			}
			s.logger.Info("session resumed", "id", sess.ID, "name", sess.Name)
			s.notify(ctx, eventlog.TypeResumed, sess.ID)
			return &StartResult{Session: sess, Resumed: true}, nil
		case !isStoreNotFound(err):
			return nil, Classify("start session", "session", name, err)
		}
	}

	now := s.now()
	sess := &store.Session{
		ID:          store.NewID("sess"),
		Name:        name,
		Description: in.Description,
		Channel:     in.Channel,
		ProjectPath: in.ProjectPath,
		Status:      store.SessionActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, Classify("start session", "session", sess.ID, err)
	}

	s.logger.Info("session started", "id", sess.ID, "name", sess.Name)
	s.notify(ctx, eventlog.TypeCreated, sess.ID)
	return &StartResult{Session: sess}, nil
}

// Resume reactivates a paused or completed session. Resuming an active
// session is a no-op and emits nothing.
func (s *Service) Resume(ctx context.Context, id string) (*store.Session, error) {
	current, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, Classify("resume session", "session", id, err)
	}
	if current.Status == store.SessionActive {
		return current, nil
	}

	sess, err := s.store.TransitionSession(ctx, id,
		[]store.SessionStatus{store.SessionPaused, store.SessionCompleted}, store.SessionActive, s.now())
	if err != nil {
		return nil, Classify("resume session", "session", id, err)
	}
	s.notify(ctx, eventlog.TypeResumed, id)
	return sess, nil
}

// Pause moves an active session to paused and stamps ended_at
func (s *Service) Pause(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.TransitionSession(ctx, id,
		[]store.SessionStatus{store.SessionActive}, store.SessionPaused, s.now())
	if err != nil {
		return nil, Classify("pause session", "session", id, err)
	}
	s.notify(ctx, eventlog.TypePaused, id)
	return sess, nil
}

// Complete moves an active or paused session to completed and stamps ended_at
func (s *Service) Complete(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.TransitionSession(ctx, id,
		[]store.SessionStatus{store.SessionActive, store.SessionPaused}, store.SessionCompleted, s.now())
	if err != nil {
		return nil, Classify("complete session", "session", id, err)
	}
	s.notify(ctx, eventlog.TypeCompleted, id)
	return sess, nil
}

// Switch pauses fromID (when it is active and differs from toID) and makes toID active
func (s *Service) Switch(ctx context.Context, fromID, toID string) (*store.Session, error) {
	target, err := s.store.GetSession(ctx, toID)
	if err != nil {
		return nil, Classify("switch session", "session", toID, err)
	}

	if fromID != "" && fromID != toID {
		if _, err := s.Pause(ctx, fromID); err != nil && !IsPrecondition(err) && !IsNotFound(err) {
			return nil, err
		}
	}

	if target.Status == store.SessionActive {
		return target, nil
	}
	return s.Resume(ctx, toID)
}

// Rename changes a session's name and optionally its description
func (s *Service) Rename(ctx context.Context, id, name string, description *string) (*store.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &InvalidArgumentError{Field: "name", Reason: "must not be empty"}
	}

	sess, err := s.store.RenameSession(ctx, id, name, description, s.now())
	if err != nil {
		return nil, Classify("rename session", "session", id, err)
	}
	s.notify(ctx, eventlog.TypeUpdated, id)
	return sess, nil
}

// Delete removes a paused or completed session along with its context items
// and checkpoints. Deleting an active session is a PreconditionError and
// leaves everything untouched.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	del, err := s.store.DeleteSession(ctx, id)
	if err != nil {
		return nil, Classify("delete session", "session", id, err)
	}

	s.logger.Info("session deleted",
		"id", id,
		"items_deleted", del.ItemsDeleted,
		"checkpoints_deleted", del.CheckpointsDeleted)
	s.notify(ctx, eventlog.TypeDeleted, id)

	return &DeleteResult{
		Removed:            true,
		ItemsDeleted:       del.ItemsDeleted,
		CheckpointsDeleted: del.CheckpointsDeleted,
	}, nil
}

// Get returns a session by id
func (s *Service) Get(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, Classify("get session", "session", id, err)
	}
	return sess, nil
}

// List returns sessions ordered by most recent activity
func (s *Service) List(ctx context.Context, f ListFilter) ([]*store.Session, error) {
	if f.Status != "" && !validStatus(f.Status) {
		return nil, &InvalidArgumentError{Field: "status", Reason: "must be active, paused or completed"}
	}

	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
		Status:      f.Status,
		ProjectPath: f.ProjectPath,
		Limit:       f.Limit,
	})
	if err != nil {
		return nil, Classify("list sessions", "session", "", err)
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	return sessions, nil
}

func (s *Service) notify(ctx context.Context, changeType, sessionID string) {
	if s.events == nil {
		return
	}
	s.events.Notify(ctx, eventlog.TopicSession, eventlog.Change{Type: changeType, SessionID: sessionID})
}

func validStatus(st store.SessionStatus) bool {
	switch st {
	case store.SessionActive, store.SessionPaused, store.SessionCompleted:
		return true
	}
	return false
}

func isStoreNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// compile-time check that the event log satisfies Notifier
var _ Notifier = (*eventlog.Log)(nil)

