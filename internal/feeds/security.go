package feeds

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/poll"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

// SecuritySource serves the security dashboard endpoints
type SecuritySource interface {
	ListSecurityEvents(ctx context.Context, limit int, since time.Time) ([]events.SecurityEvent, error)
	ActiveSessions(ctx context.Context) ([]events.ActiveSession, error)
}

// endedSessions bounds the memory of terminated sessions used to ignore late
// SESSION_CREATED duplicates
const endedSessions = 500

// Security combines security events with the live set of admin sessions
type Security struct {
	feed
	api   SecuritySource
	opts  Options
	allow map[string]bool

	mu       sync.Mutex
	win      *Window[events.SecurityEvent]
	sessions map[string]events.ActiveSession
	ended    *Window[events.SessionEvent]
}

// NewSecurity creates the feed; opts.Types filters security events by type
func NewSecurity(conn Conn, api SecuritySource, opts Options, log zerolog.Logger) *Security {
	opts = opts.withDefaults(30*time.Second, 100)
	s := &Security{
		feed:  newFeed("security", conn, log),
		api:   api,
		opts:  opts,
		allow: opts.allowList(),
		win: NewWindow(opts.Window,
			func(e events.SecurityEvent) string { return e.ID },
			func(e events.SecurityEvent) time.Time { return e.Timestamp.Time },
		),
		sessions: make(map[string]events.ActiveSession),
		ended: NewWindow(endedSessions,
			func(e events.SessionEvent) string { return e.SessionID },
			func(e events.SessionEvent) time.Time { return e.Timestamp.Time },
		),
	}
	s.poller = poll.New(s.name, opts.PollInterval, s.fetch, log)
	return s
}

// Run follows /topic/sessions and /topic/security-events and polls while
// disconnected
func (s *Security) Run(ctx context.Context) error {
	return s.run(ctx, map[string]realtime.Handler{
		events.TopicSecurityEvents: s.onSecurityEvent,
		events.TopicSessions:       s.onSessionEvent,
	})
}

func (s *Security) onSecurityEvent(ev realtime.Event) {
	if e, ok := decode[events.SecurityEvent](&s.feed, ev); ok {
		s.AddEvents(e)
	}
}

func (s *Security) onSessionEvent(ev realtime.Event) {
	if e, ok := decode[events.SessionEvent](&s.feed, ev); ok {
		s.ApplySession(e)
	}
}

// AddEvents merges security events and reports how many were new
func (s *Security) AddEvents(evs ...events.SecurityEvent) int {
	if s.allow != nil {
		kept := evs[:0:0]
		for _, e := range evs {
			if s.allow[e.Type] {
				kept = append(kept, e)
			}
		}
		evs = kept
	}

	s.mu.Lock()
	n := s.win.Add(evs...)
	s.mu.Unlock()
	if n > 0 {
		s.notify()
	}
	return n
}

// ApplySession updates the active session set and reports whether it changed
func (s *Security) ApplySession(e events.SessionEvent) bool {
	s.mu.Lock()
	changed := false
	switch e.Type {
	case events.SessionCreated:
		if _, ok := s.sessions[e.SessionID]; !ok && !s.ended.Has(e.SessionID) {
			s.sessions[e.SessionID] = events.SessionFromEvent(e)
			changed = true
		}
	case events.SessionTerminated, events.SessionExpired:
		s.ended.Add(e)
		if _, ok := s.sessions[e.SessionID]; ok {
			delete(s.sessions, e.SessionID)
			changed = true
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// ReplaceSessions installs a polled snapshot of the active sessions. Sessions
// already reported terminated or expired stay gone, since the snapshot may
// predate that event.
func (s *Security) ReplaceSessions(list []events.ActiveSession) {
	s.mu.Lock()
	next := make(map[string]events.ActiveSession, len(list))
	for _, sess := range list {
		if s.ended.Has(sess.SessionID) {
			continue
		}
		next[sess.SessionID] = sess
	}
	changed := !maps.EqualFunc(s.sessions, next, func(a, b events.ActiveSession) bool {
		return a.SessionID == b.SessionID && a.LastActiveAt.Equal(b.LastActiveAt.Time)
	})
	s.sessions = next
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

func (s *Security) fetch(ctx context.Context) error {
	var errs []error

	evs, err := s.api.ListSecurityEvents(ctx, s.opts.Limit, s.Since())
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch security events: %w", err))
	} else {
		valid := evs[:0]
		for _, e := range evs {
			if err := e.Validate(); err != nil {
				s.log.Warn().Err(err).Msg("dropping polled event")
				continue
			}
			valid = append(valid, e)
		}
		s.AddEvents(valid...)
	}

	sessions, err := s.api.ActiveSessions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to fetch active sessions: %w", err))
	} else {
		s.ReplaceSessions(sessions)
	}
	return errors.Join(errs...)
}

// Since is the newest security event timestamp seen so far
func (s *Security) Since() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.Since()
}

// Events returns the retained security events, newest first
func (s *Security) Events() []events.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win.Items()
}

// Sessions returns the active sessions, most recently created first
func (s *Security) Sessions() []events.ActiveSession {
	s.mu.Lock()
	list := slices.Collect(maps.Values(s.sessions))
	s.mu.Unlock()

	slices.SortFunc(list, func(a, b events.ActiveSession) int {
		if c := b.CreatedAt.Compare(a.CreatedAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return list
}

// SeverityCounts tallies the retained events by severity
func (s *Security) SeverityCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, e := range s.win.list {
		counts[e.Severity]++
	}
	return counts
}
