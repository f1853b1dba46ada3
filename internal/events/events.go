// Package events defines the payloads pushed on each realtime topic and validates
// them at the feed boundary
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Topics published by the admin backend
const (
	TopicAuditLog       = "/topic/auditlog"
	TopicPricing        = "/topic/pricing"
	TopicWorkflows      = "/topic/workflows"
	TopicSessions       = "/topic/sessions"
	TopicSecurityEvents = "/topic/security-events"
	TopicNotifications  = "/user/queue/notifications"
)

// Kind discriminates the Message union
type Kind string

const (
	KindAuditLog     Kind = "audit_log"
	KindPricing      Kind = "pricing"
	KindWorkflow     Kind = "workflow"
	KindSession      Kind = "session"
	KindSecurity     Kind = "security"
	KindNotification Kind = "notification"
)

var (
	ErrNotJSON      = errors.New("event body is not JSON")
	ErrUnknownTopic = errors.New("unknown topic")
	ErrInvalidEvent = errors.New("invalid event")
)

// Message is implemented by every topic payload
type Message interface {
	Kind() Kind
	Validate() error
}

// AuditLogEvent is an entry of the admin audit log (/topic/auditlog)
type AuditLogEvent struct {
	ID         int64          `json:"id"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId,omitempty"`
	EntityName string         `json:"entityName,omitempty"`
	UserEmail  string         `json:"userEmail,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  Time           `json:"timestamp"`
}

func (AuditLogEvent) Kind() Kind { return KindAuditLog }

func (e AuditLogEvent) Validate() error {
	switch {
	case e.ID <= 0:
		return fmt.Errorf("%w: audit log entry without id", ErrInvalidEvent)
	case e.Action == "" || e.EntityType == "":
		return fmt.Errorf("%w: audit log entry %d without action or entity type", ErrInvalidEvent, e.ID)
	case e.Timestamp.IsZero():
		return fmt.Errorf("%w: audit log entry %d without timestamp", ErrInvalidEvent, e.ID)
	}
	return nil
}

// Pricing event types
const (
	PriceUpdated     = "PRICE_UPDATED"
	BulkPriceUpdate  = "BULK_PRICE_UPDATE"
	RuleCreated      = "RULE_CREATED"
	RuleUpdated      = "RULE_UPDATED"
	RuleDeleted      = "RULE_DELETED"
	RuleActivated    = "RULE_ACTIVATED"
	RuleDeactivated  = "RULE_DEACTIVATED"
	PricingRecompute = "PRICING_RECALCULATED"
)

// PricingEvent is pushed on /topic/pricing. It carries no id of its own.
type PricingEvent struct {
	Type        string   `json:"type"`
	ProductID   string   `json:"productId,omitempty"`
	ProductName string   `json:"productName,omitempty"`
	RuleID      string   `json:"ruleId,omitempty"`
	RuleName    string   `json:"ruleName,omitempty"`
	OldPrice    *float64 `json:"oldPrice,omitempty"`
	NewPrice    *float64 `json:"newPrice,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Message     string   `json:"message,omitempty"`
	Timestamp   Time     `json:"timestamp"`
}

func (PricingEvent) Kind() Kind { return KindPricing }

func (e PricingEvent) Validate() error {
	if e.Type == "" || e.Timestamp.IsZero() {
		return fmt.Errorf("%w: pricing event needs type and timestamp", ErrInvalidEvent)
	}
	return nil
}

// Key identifies a pricing event by its content since the backend assigns no id
func (e PricingEvent) Key() string {
	return strings.Join([]string{
		e.Type,
		strconv.FormatInt(e.Timestamp.UnixNano(), 10),
		e.ProductID,
		e.RuleID,
	}, "|")
}

// Workflow event types
const (
	WorkflowStarted   = "WORKFLOW_STARTED"
	WorkflowCompleted = "WORKFLOW_COMPLETED"
	WorkflowFailed    = "WORKFLOW_FAILED"
	StepStarted       = "STEP_STARTED"
	StepCompleted     = "STEP_COMPLETED"
	StepFailed        = "STEP_FAILED"
)

// WorkflowExecutionEvent is pushed on /topic/workflows
type WorkflowExecutionEvent struct {
	ExecutionID  string `json:"executionId"`
	WorkflowID   string `json:"workflowId,omitempty"`
	WorkflowName string `json:"workflowName,omitempty"`
	EventType    string `json:"eventType"`
	StepName     string `json:"stepName,omitempty"`
	Error        string `json:"error,omitempty"`
	Timestamp    Time   `json:"timestamp"`
}

func (WorkflowExecutionEvent) Kind() Kind { return KindWorkflow }

func (e WorkflowExecutionEvent) Validate() error {
	if e.ExecutionID == "" {
		return fmt.Errorf("%w: workflow event without executionId", ErrInvalidEvent)
	}
	switch e.EventType {
	case WorkflowStarted, WorkflowCompleted, WorkflowFailed:
		return nil
	case StepStarted, StepCompleted, StepFailed:
		if e.StepName == "" {
			return fmt.Errorf("%w: %s for %s without stepName", ErrInvalidEvent, e.EventType, e.ExecutionID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown workflow event type %q", ErrInvalidEvent, e.EventType)
	}
}

// Key is the composite identity (executionId, eventType, stepName)
func (e WorkflowExecutionEvent) Key() string {
	return e.ExecutionID + "|" + e.EventType + "|" + e.StepName
}

// IsStep reports whether the event targets a step rather than the execution
func (e WorkflowExecutionEvent) IsStep() bool {
	switch e.EventType {
	case StepStarted, StepCompleted, StepFailed:
		return true
	}
	return false
}

// Session event types
const (
	SessionCreated    = "SESSION_CREATED"
	SessionTerminated = "SESSION_TERMINATED"
	SessionExpired    = "SESSION_EXPIRED"
)

// SessionEvent is pushed on /topic/sessions
type SessionEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	UserEmail string `json:"userEmail,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp Time   `json:"timestamp"`
}

func (SessionEvent) Kind() Kind { return KindSession }

func (e SessionEvent) Validate() error {
	if e.SessionID == "" {
		return fmt.Errorf("%w: session event without sessionId", ErrInvalidEvent)
	}
	switch e.Type {
	case SessionCreated, SessionTerminated, SessionExpired:
		return nil
	}
	return fmt.Errorf("%w: unknown session event type %q", ErrInvalidEvent, e.Type)
}

// ActiveSession is one row of the active admin sessions listing
type ActiveSession struct {
	SessionID    string `json:"sessionId"`
	UserEmail    string `json:"userEmail,omitempty"`
	IPAddress    string `json:"ipAddress,omitempty"`
	UserAgent    string `json:"userAgent,omitempty"`
	CreatedAt    Time   `json:"createdAt"`
	LastActiveAt Time   `json:"lastActiveAt"`
}

// SessionFromEvent builds the listing row a SESSION_CREATED event implies
func SessionFromEvent(e SessionEvent) ActiveSession {
	return ActiveSession{
		SessionID:    e.SessionID,
		UserEmail:    e.UserEmail,
		IPAddress:    e.IPAddress,
		UserAgent:    e.UserAgent,
		CreatedAt:    e.Timestamp,
		LastActiveAt: e.Timestamp,
	}
}

// Severity levels of security events
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SecurityEvent is pushed on /topic/security-events
type SecurityEvent struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	UserEmail   string `json:"userEmail,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   Time   `json:"timestamp"`
}

func (SecurityEvent) Kind() Kind { return KindSecurity }

func (e SecurityEvent) Validate() error {
	if e.ID == "" || e.Type == "" {
		return fmt.Errorf("%w: security event needs id and type", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: security event %s without timestamp", ErrInvalidEvent, e.ID)
	}
	switch e.Severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return nil
	}
	return fmt.Errorf("%w: security event %s has severity %q", ErrInvalidEvent, e.ID, e.Severity)
}

// NotificationMessage is delivered on the per-user queue
type NotificationMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message,omitempty"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	Timestamp Time   `json:"timestamp"`
}

func (NotificationMessage) Kind() Kind { return KindNotification }

func (e NotificationMessage) Validate() error {
	if e.ID == "" || e.Title == "" {
		return fmt.Errorf("%w: notification needs id and title", ErrInvalidEvent)
	}
	return nil
}

// KindOf maps a topic to the payload kind it carries
func KindOf(topic string) (Kind, error) {
	switch topic {
	case TopicAuditLog:
		return KindAuditLog, nil
	case TopicPricing:
		return KindPricing, nil
	case TopicWorkflows:
		return KindWorkflow, nil
	case TopicSessions:
		return KindSession, nil
	case TopicSecurityEvents:
		return KindSecurity, nil
	case TopicNotifications:
		return KindNotification, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// Decode turns the body of a frame received on topic into its typed payload.
// Non-JSON bodies and payloads failing validation are rejected.
func Decode(topic string, body []byte) (Message, error) {
	if !json.Valid(body) {
		return nil, ErrNotJSON
	}

	kind, err := KindOf(topic)
	if err != nil {
		return nil, err
	}

	var msg Message
	switch kind {
	case KindAuditLog:
		msg, err = decodeAs[AuditLogEvent](body)
	case KindPricing:
		msg, err = decodeAs[PricingEvent](body)
	case KindWorkflow:
		msg, err = decodeAs[WorkflowExecutionEvent](body)
	case KindSession:
		msg, err = decodeAs[SessionEvent](body)
	case KindSecurity:
		msg, err = decodeAs[SecurityEvent](body)
	case KindNotification:
		msg, err = decodeAs[NotificationMessage](body)
	}
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T Message](body []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return v, nil
}
