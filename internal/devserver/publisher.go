package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/broker"
	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/store"
)

// Publisher persists an event so the polling endpoints return it, then pushes it
// to the broker
type Publisher struct {
	db  *store.DB
	hub *broker.Hub
	log zerolog.Logger
	now func() time.Time

	// serializes the read-modify-write of workflow executions
	wfMu sync.Mutex
}

// NewPublisher creates a publisher writing to db and broadcasting through hub
func NewPublisher(db *store.DB, hub *broker.Hub, log zerolog.Logger) *Publisher {
	return &Publisher{
		db:  db,
		hub: hub,
		log: log.With().Str("component", "publisher").Logger(),
		now: time.Now,
	}
}

func (p *Publisher) stamp(t *events.Time) {
	if t.IsZero() {
		*t = events.NewTime(p.now())
	}
}

// AuditLog stores an audit entry, assigning its id, and broadcasts it
func (p *Publisher) AuditLog(e events.AuditLogEvent) (events.AuditLogEvent, error) {
	if e.Action == "" || e.EntityType == "" {
		return e, fmt.Errorf("%w: audit log entry needs action and entityType", events.ErrInvalidEvent)
	}
	p.stamp(&e.Timestamp)
	if err := p.db.InsertAuditLog(&e); err != nil {
		return e, err
	}
	return e, p.broadcast(events.TopicAuditLog, e, "")
}

// Pricing stores a pricing event and broadcasts it
func (p *Publisher) Pricing(e events.PricingEvent) (events.PricingEvent, error) {
	p.stamp(&e.Timestamp)
	if err := e.Validate(); err != nil {
		return e, err
	}
	if err := p.db.InsertPricingEvent(&e); err != nil {
		return e, err
	}
	return e, p.broadcast(events.TopicPricing, e, "")
}

// Security stores a security event, assigning its id, and broadcasts it
func (p *Publisher) Security(e events.SecurityEvent) (events.SecurityEvent, error) {
	if e.ID == "" {
		e.ID = store.NewPrefixedID("sec")
	}
	p.stamp(&e.Timestamp)
	if err := e.Validate(); err != nil {
		return e, err
	}
	if err := p.db.InsertSecurityEvent(&e); err != nil {
		return e, err
	}
	return e, p.broadcast(events.TopicSecurityEvents, e, "")
}

// Workflow folds the event into the stored execution and broadcasts it. Events
// for executions never started are broadcast without being stored.
func (p *Publisher) Workflow(e events.WorkflowExecutionEvent) (events.WorkflowExecutionEvent, error) {
	p.stamp(&e.Timestamp)
	if err := e.Validate(); err != nil {
		return e, err
	}

	p.wfMu.Lock()
	exec, err := p.db.GetExecution(e.ExecutionID)
	switch {
	case errors.Is(err, store.ErrNotFound) && e.EventType == events.WorkflowStarted:
		exec = events.NewExecution(e)
		err = p.db.SaveExecution(exec)
	case errors.Is(err, store.ErrNotFound):
		p.log.Debug().Str("execution", e.ExecutionID).Str("event", e.EventType).Msg("event for unknown execution not stored")
		err = nil
	case err == nil:
		if exec.Apply(e) {
			err = p.db.SaveExecution(exec)
		}
	}
	p.wfMu.Unlock()
	if err != nil {
		return e, err
	}
	return e, p.broadcast(events.TopicWorkflows, e, "")
}

// Session broadcasts a session lifecycle event. Sessions themselves are stored
// by the session manager.
func (p *Publisher) Session(e events.SessionEvent) (events.SessionEvent, error) {
	p.stamp(&e.Timestamp)
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, p.broadcast(events.TopicSessions, e, "")
}

// Notify delivers a notification to the sessions of one admin
func (p *Publisher) Notify(user string, n events.NotificationMessage) (events.NotificationMessage, error) {
	if user == "" {
		return n, errors.New("notification needs a recipient")
	}
	if n.ID == "" {
		n.ID = store.NewPrefixedID("ntf")
	}
	p.stamp(&n.Timestamp)
	if err := n.Validate(); err != nil {
		return n, err
	}
	return n, p.broadcast(events.TopicNotifications, n, user)
}

// Publish decodes a raw body of the given kind, completes it and publishes it.
// user is the recipient of notifications and ignored otherwise.
func (p *Publisher) Publish(kind events.Kind, body []byte, user string) (any, error) {
	switch kind {
	case events.KindAuditLog:
		return publishAs(body, p.AuditLog)
	case events.KindPricing:
		return publishAs(body, p.Pricing)
	case events.KindWorkflow:
		return publishAs(body, p.Workflow)
	case events.KindSession:
		return publishAs(body, p.Session)
	case events.KindSecurity:
		return publishAs(body, p.Security)
	case events.KindNotification:
		return publishAs(body, func(n events.NotificationMessage) (events.NotificationMessage, error) {
			return p.Notify(user, n)
		})
	}
	return nil, fmt.Errorf("unknown event kind %q", kind)
}

func publishAs[T any](body []byte, publish func(T) (T, error)) (any, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", events.ErrNotJSON, err)
	}
	return publish(v)
}

func (p *Publisher) broadcast(destination string, v any, user string) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", destination, err)
	}
	p.hub.Publish(broker.Message{Destination: destination, Body: body, User: user})
	p.log.Debug().Str("destination", destination).Str("user", user).Msg("published")
	return nil
}
