package devserver

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/store"
)

var (
	simProducts = []struct{ id, name string }{
		{"prod-100", "Trail Runner"},
		{"prod-101", "City Backpack"},
		{"prod-102", "Rain Shell"},
		{"prod-103", "Wool Beanie"},
	}
	simRules     = []string{"Weekend sale", "Clearance", "Member discount"}
	simWorkflows = []struct {
		id, name string
		steps    []string
	}{
		{"wf-order", "Order fulfillment", []string{"reserve", "charge", "pack", "ship"}},
		{"wf-refund", "Refund", []string{"validate", "refund", "notify"}},
		{"wf-reindex", "Catalog reindex", []string{"export", "index"}},
	}
	simSecurity = []struct{ typ, severity, description string }{
		{"LOGIN_FAILED", events.SeverityMedium, "Failed admin login"},
		{"PERMISSION_DENIED", events.SeverityLow, "Access to a restricted page was denied"},
		{"SUSPICIOUS_IP", events.SeverityHigh, "Login from an unusual location"},
		{"BRUTE_FORCE", events.SeverityCritical, "Repeated failed logins from one address"},
	}
	simActions = []string{"CREATE", "UPDATE", "DELETE"}
	simUsers   = []string{"ops@shop.test", "pricing@shop.test", "support@shop.test"}
)

// run is one simulated workflow execution in flight
type run struct {
	id     string
	wf     int
	step   int
	begun  bool
	inStep bool
	failed bool
}

// Simulator emits a steady stream of synthetic admin events
type Simulator struct {
	pub      *Publisher
	interval time.Duration
	user     string
	log      zerolog.Logger
	rnd      *rand.Rand

	current *run
}

// NewSimulator creates a simulator publishing one event per interval. user
// receives the simulated notifications.
func NewSimulator(pub *Publisher, interval time.Duration, user string, log zerolog.Logger) *Simulator {
	return &Simulator{
		pub:      pub,
		interval: interval,
		user:     user,
		log:      log.With().Str("component", "simulator").Logger(),
		rnd:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
	}
}

// Run publishes until ctx is cancelled
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("simulator started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.log.Warn().Err(err).Msg("simulated event not published")
			}
		}
	}
}

// Step publishes one event. Workflow runs advance one event per step so their
// lifecycle is spread over several ticks.
func (s *Simulator) Step() error {
	switch n := s.rnd.IntN(10); {
	case n < 3:
		return s.workflow()
	case n < 5:
		return s.audit()
	case n < 7:
		return s.pricing()
	case n < 9:
		return s.security()
	default:
		return s.notification()
	}
}

func (s *Simulator) audit() error {
	p := simProducts[s.rnd.IntN(len(simProducts))]
	_, err := s.pub.AuditLog(events.AuditLogEvent{
		Action:     simActions[s.rnd.IntN(len(simActions))],
		EntityType: "PRODUCT",
		EntityID:   p.id,
		EntityName: p.name,
		UserEmail:  simUsers[s.rnd.IntN(len(simUsers))],
		Details:    map[string]any{"source": "simulator"},
	})
	return err
}

func (s *Simulator) pricing() error {
	if s.rnd.IntN(4) == 0 {
		rule := simRules[s.rnd.IntN(len(simRules))]
		_, err := s.pub.Pricing(events.PricingEvent{
			Type:     events.RuleActivated,
			RuleID:   fmt.Sprintf("rule-%d", s.rnd.IntN(20)),
			RuleName: rule,
			Message:  rule + " activated",
		})
		return err
	}

	p := simProducts[s.rnd.IntN(len(simProducts))]
	oldPrice := s.price()
	newPrice := s.price()
	_, err := s.pub.Pricing(events.PricingEvent{
		Type:        events.PriceUpdated,
		ProductID:   p.id,
		ProductName: p.name,
		OldPrice:    &oldPrice,
		NewPrice:    &newPrice,
		Currency:    "EUR",
	})
	return err
}

func (s *Simulator) price() float64 {
	return math.Round((10+s.rnd.Float64()*190)*100) / 100
}

func (s *Simulator) security() error {
	ev := simSecurity[s.rnd.IntN(len(simSecurity))]
	_, err := s.pub.Security(events.SecurityEvent{
		Type:        ev.typ,
		Severity:    ev.severity,
		UserEmail:   simUsers[s.rnd.IntN(len(simUsers))],
		IPAddress:   fmt.Sprintf("203.0.113.%d", s.rnd.IntN(254)+1),
		Description: ev.description,
	})
	return err
}

func (s *Simulator) notification() error {
	_, err := s.pub.Notify(s.user, events.NotificationMessage{
		Type:    "INFO",
		Title:   "Low stock",
		Message: simProducts[s.rnd.IntN(len(simProducts))].name + " is running low",
		Link:    "/admin/products",
	})
	return err
}

// workflow advances the run in flight, starting a new one when none is
func (s *Simulator) workflow() error {
	if s.current == nil {
		s.current = &run{id: store.NewPrefixedID("exec"), wf: s.rnd.IntN(len(simWorkflows))}
	}
	r := s.current
	wf := simWorkflows[r.wf]
	ev := events.WorkflowExecutionEvent{
		ExecutionID:  r.id,
		WorkflowID:   wf.id,
		WorkflowName: wf.name,
	}

	switch {
	case !r.begun:
		ev.EventType = events.WorkflowStarted
		r.begun = true
	case r.failed:
		ev.EventType = events.WorkflowFailed
		ev.Error = "step " + wf.steps[r.step] + " failed"
		s.current = nil
	case r.inStep:
		ev.StepName = wf.steps[r.step]
		r.inStep = false
		if s.rnd.IntN(20) == 0 {
			ev.EventType = events.StepFailed
			ev.Error = "simulated failure"
			r.failed = true
		} else {
			ev.EventType = events.StepCompleted
			r.step++
		}
	case r.step < len(wf.steps):
		ev.EventType = events.StepStarted
		ev.StepName = wf.steps[r.step]
		r.inStep = true
	default:
		ev.EventType = events.WorkflowCompleted
		s.current = nil
	}

	_, err := s.pub.Workflow(ev)
	return err
}
