package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// SessionStore persists one JSON file per session. Writes go through a
// temp file and an atomic rename so that status stays consulable during
// long-running work.
type SessionStore struct {
	dir string
	mu  sync.Mutex
}

// NewSessionStore creates the sessions directory if needed.
func NewSessionStore(dir string) (*SessionStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create sessions directory: %w", err)
	}
	return &SessionStore{dir: dir}, nil
}

// Create persists a new session in pending state.
func (s *SessionStore) Create(projectID string, totalFiles int) (*model.Session, error) {
	now := time.Now().UTC()
	session := &model.Session{
		SessionID:  NewSessionID(),
		ProjectID:  projectID,
		Status:     model.SessionPending,
		TotalFiles: totalFiles,
		Errors:     []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.write(session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get loads a session by id.
func (s *SessionStore) Get(sessionID string) (*model.Session, error) {
	raw, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Newf(apperr.CodeProjectNotFound, "session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var session model.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &session, nil
}

// Update applies fn to the stored session and persists the result
// atomically.
func (s *SessionStore) Update(sessionID string, fn func(*model.Session)) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.Get(sessionID)
	if err != nil {
		return nil, err
	}
	fn(session)
	session.UpdatedAt = time.Now().UTC()
	if err := s.write(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionStore) write(session *model.Session) error {
	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	target := s.path(session.SessionID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit session: %w", err)
	}
	return nil
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session_" + shortID()
}

// NewProjectID returns a fresh project identifier.
func NewProjectID() string {
	return "proj_" + shortID()
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
