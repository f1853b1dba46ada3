package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Session represents a signed-in admin.
type Session struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionStore defines the interface for session storage.
type SessionStore interface {
	Get(id string) (*Session, error)
	Set(session *Session) error
	Delete(id string) error
	List() ([]*Session, error)
}

// MemorySessionStore is an in-memory session store.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves a session by ID, expired or not.
func (s *MemorySessionStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	c := *session
	return &c, nil
}

// Set stores a session.
func (s *MemorySessionStore) Set(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *session
	s.sessions[session.ID] = &c
	return nil
}

// Delete removes a session.
func (s *MemorySessionStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

// List returns every stored session, oldest first.
func (s *MemorySessionStore) List() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		c := *session
		list = append(list, &c)
	}
	slices.SortFunc(list, func(a, b *Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return list, nil
}

// SessionManager handles session creation and validation.
type SessionManager struct {
	store      SessionStore
	cookieName string
	maxAge     time.Duration
	secure     bool
	now        func() time.Time
}

// SessionManagerConfig contains configuration for the session manager.
type SessionManagerConfig struct {
	Store      SessionStore
	CookieName string
	MaxAge     time.Duration
	Secure     bool // Set to true for HTTPS
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	if cfg.Store == nil {
		cfg.Store = NewMemorySessionStore()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "admin_session"
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	return &SessionManager{
		store:      cfg.Store,
		cookieName: cfg.CookieName,
		maxAge:     cfg.MaxAge,
		secure:     cfg.Secure,
		now:        time.Now,
	}
}

// CookieName returns the name of the session cookie.
func (m *SessionManager) CookieName() string { return m.cookieName }

// CreateSession creates a new session for the request's admin and returns it.
func (m *SessionManager) CreateSession(email string, r *http.Request) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := m.now().UTC()
	session := &Session{
		ID:           id,
		Email:        email,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(m.maxAge),
	}
	if r != nil {
		session.IPAddress = clientIP(r)
		session.UserAgent = r.UserAgent()
	}

	if err := m.store.Set(session); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	return session, nil
}

// ValidateSession checks if a session ID is valid, records the activity and
// returns the session.
func (m *SessionManager) ValidateSession(sessionID string) (*Session, error) {
	session, err := m.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if session.Expired(now) {
		return nil, ErrSessionExpired
	}

	session.LastActiveAt = now
	if err := m.store.Set(session); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	return session, nil
}

// DeleteSession removes a session.
func (m *SessionManager) DeleteSession(sessionID string) error {
	return m.store.Delete(sessionID)
}

// ActiveSessions lists the sessions that have not expired.
func (m *SessionManager) ActiveSessions() ([]*Session, error) {
	all, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := m.now()
	return slices.DeleteFunc(all, func(s *Session) bool { return s.Expired(now) }), nil
}

// Sweep deletes expired sessions and returns them.
func (m *SessionManager) Sweep() ([]*Session, error) {
	all, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	now := m.now()
	var expired []*Session
	for _, s := range all {
		if !s.Expired(now) {
			continue
		}
		if err := m.store.Delete(s.ID); err != nil {
			return expired, fmt.Errorf("failed to delete session: %w", err)
		}
		expired = append(expired, s)
	}
	return expired, nil
}

// SetSessionCookie sets the session cookie on the response.
func (m *SessionManager) SetSessionCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(m.maxAge.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie.
func (m *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest retrieves and validates the session from a request.
func (m *SessionManager) GetSessionFromRequest(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return nil, fmt.Errorf("no session cookie: %w", err)
	}

	return m.ValidateSession(cookie.Value)
}

// Middleware returns an HTTP middleware that validates sessions.
// If the session is valid, it's added to the request context.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, err := m.GetSessionFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := WithSession(r.Context(), session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
