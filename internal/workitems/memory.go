package workitems

import (
	"context"
	"strings"

	"github.com/2389/coven-context/internal/eventlog"
	"github.com/2389/coven-context/internal/session"
	"github.com/2389/coven-context/internal/store"
)

// Memory categories
const (
	MemoryCommand = "command"
	MemoryConfig  = "config"
	MemoryNote    = "note"
)

// SaveMemory upserts a project-scoped fact and emits a saved change
func (s *Service) SaveMemory(ctx context.Context, projectPath, key, value, category string) (*store.Memory, error) {
	if strings.TrimSpace(projectPath) == "" {
		return nil, &session.InvalidArgumentError{Field: "project_path", Reason: "must not be empty"}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, &session.InvalidArgumentError{Field: "key", Reason: "must not be empty"}
	}
	switch category {
	case "", MemoryCommand, MemoryConfig, MemoryNote:
	default:
		return nil, &session.InvalidArgumentError{Field: "category", Reason: "must be command, config or note"}
	}

	m := &store.Memory{ProjectPath: projectPath, Key: key, Value: value, Category: category}
	if _, err := s.store.SaveMemory(ctx, m, s.now()); err != nil {
		return nil, session.Classify("save memory", "memory", key, err)
	}

	s.notify(ctx, eventlog.TopicMemory, eventlog.Change{Type: eventlog.TypeSaved, Key: key, ProjectPath: projectPath})
	return m, nil
}

// GetMemory returns one fact
func (s *Service) GetMemory(ctx context.Context, projectPath, key string) (*store.Memory, error) {
	m, err := s.store.GetMemory(ctx, projectPath, key)
	if err != nil {
		return nil, session.Classify("get memory", "memory", key, err)
	}
	return m, nil
}

// ListMemory returns a project's facts ordered by key
func (s *Service) ListMemory(ctx context.Context, projectPath string) ([]*store.Memory, error) {
	entries, err := s.store.ListMemory(ctx, projectPath)
	if err != nil {
		return nil, session.Classify("list memory", "memory", "", err)
	}
	if entries == nil {
		entries = []*store.Memory{}
	}
	return entries, nil
}

// DeleteMemory removes a fact
func (s *Service) DeleteMemory(ctx context.Context, projectPath, key string) error {
	if err := s.store.DeleteMemory(ctx, projectPath, key); err != nil {
		return session.Classify("delete memory", "memory", key, err)
	}
	s.notify(ctx, eventlog.TopicMemory, eventlog.Change{Type: eventlog.TypeDeleted, Key: key, ProjectPath: projectPath})
	return nil
}
