// Package convo keeps conversation history in the TTL key-value store.
// Sessions expire after a sliding TTL; an absent or expired session reads as
// an empty history, never an error.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sitesage/sitesage/internal/clock"
	"github.com/sitesage/sitesage/internal/kv"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const maxTitleRunes = 50

// Message is one turn of a conversation.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Metadata describes a session: an auto-generated title and timestamps.
type Metadata struct {
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes sessions.
type Store struct {
	kv     kv.Store
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// New creates a Store whose sessions expire ttl after their last append.
func New(kvStore kv.Store, clk clock.Clock, ttl time.Duration, logger *zap.Logger) *Store {
	return &Store{kv: kvStore, clock: clk, ttl: ttl, logger: logger}
}

func messagesKey(sessionID string) string { return "convo:msgs:" + sessionID }
func metaKey(sessionID string) string     { return "convo:meta:" + sessionID }

// History returns the session's messages in order. Absent and expired
// sessions return an empty history.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	raw, err := s.kv.Get(ctx, messagesKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	var messages []Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		// A corrupt session is unrecoverable; start fresh.
		s.logger.Warn("discarding corrupt session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, nil
	}
	return messages, nil
}

// Append adds messages to the session and resets its TTL, so every turn
// extends the session's life.
func (s *Store) Append(ctx context.Context, sessionID string, messages ...Message) error {
	history, err := s.History(ctx, sessionID)
	if err != nil {
		return err
	}
	history = append(history, messages...)
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}
	if err := s.kv.Set(ctx, messagesKey(sessionID), raw, s.ttl); err != nil {
		return fmt.Errorf("write session %s: %w", sessionID, err)
	}
	s.touchMetadata(ctx, sessionID, history)
	return nil
}

// Delete removes the session and its metadata.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.kv.Delete(ctx, messagesKey(sessionID)); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if err := s.kv.Delete(ctx, metaKey(sessionID)); err != nil {
		return fmt.Errorf("delete session meta %s: %w", sessionID, err)
	}
	return nil
}

// Meta returns the session metadata; ok is false for unknown sessions.
func (s *Store) Meta(ctx context.Context, sessionID string) (Metadata, bool, error) {
	raw, err := s.kv.Get(ctx, metaKey(sessionID))
	if errors.Is(err, kv.ErrNotFound) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, fmt.Errorf("read session meta %s: %w", sessionID, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, false, nil
	}
	return meta, true, nil
}

// touchMetadata maintains the session metadata alongside the messages. The
// title comes from the first user message. Metadata is best-effort; losing
// it never fails an append.
func (s *Store) touchMetadata(ctx context.Context, sessionID string, history []Message) {
	now := s.clock.Now()
	meta, ok, err := s.Meta(ctx, sessionID)
	if err != nil {
		s.logger.Debug("session meta read failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if !ok {
		meta = Metadata{CreatedAt: now}
	}
	meta.UpdatedAt = now
	if meta.Title == "" {
		for _, msg := range history {
			if msg.Role == RoleUser && msg.Content != "" {
				meta.Title = truncateTitle(msg.Content)
				break
			}
		}
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, metaKey(sessionID), raw, s.ttl); err != nil {
		s.logger.Debug("session meta write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func truncateTitle(content string) string {
	if utf8.RuneCountInString(content) <= maxTitleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:maxTitleRunes]) + "..."
}
