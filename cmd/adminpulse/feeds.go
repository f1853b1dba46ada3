package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/adminapi"
	"github.com/lirancohen/adminpulse/internal/config"
	"github.com/lirancohen/adminpulse/internal/events"
	"github.com/lirancohen/adminpulse/internal/feeds"
	"github.com/lirancohen/adminpulse/internal/realtime"
	"github.com/lirancohen/adminpulse/internal/sanitize"
)

// consoleFeed pairs a running feed with the line printed on each update
type consoleFeed struct {
	name    string
	run     func(context.Context) error
	updates <-chan struct{}
	latest  func() string
}

// print writes the newest entry every time the feed changes. Entries come from
// the backend, so they are sanitized before reaching the terminal.
func (f consoleFeed) print(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.updates:
			if line := f.latest(); line != "" {
				fmt.Printf("[%s] %s\n", f.name, sanitize.ForTerminal(line))
			}
		}
	}
}

var feedNames = []string{"activity", "pricing", "workflows", "security", "notifications"}

func feedOptions(fc config.FeedConfig) feeds.Options {
	return feeds.Options{
		PollInterval: fc.PollInterval.Std(),
		Window:       fc.Window,
		Types:        fc.Types,
	}
}

// selectFeeds builds the feeds named in list, or every enabled feed when list
// is empty
func selectFeeds(cfg *config.Client, list string, conn *realtime.Manager, api *adminapi.Client, log zerolog.Logger) ([]consoleFeed, error) {
	wanted := make(map[string]bool)
	if list == "" {
		fc := cfg.Feeds
		wanted["activity"] = fc.Activity.On()
		wanted["pricing"] = fc.Pricing.On()
		wanted["workflows"] = fc.Workflows.On()
		wanted["security"] = fc.Security.On()
		wanted["notifications"] = fc.Notifications.On()
	} else {
		for _, name := range strings.Split(list, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !slices.Contains(feedNames, name) {
				return nil, fmt.Errorf("unknown feed %q (known: %s)", name, strings.Join(feedNames, ", "))
			}
			wanted[name] = true
		}
	}

	var out []consoleFeed
	for _, name := range feedNames {
		if !wanted[name] {
			continue
		}
		out = append(out, newConsoleFeed(name, cfg, conn, api, log))
	}
	return out, nil
}

func newConsoleFeed(name string, cfg *config.Client, conn *realtime.Manager, api *adminapi.Client, log zerolog.Logger) consoleFeed {
	switch name {
	case "activity":
		a := feeds.NewActivity(conn, api, feedOptions(cfg.Feeds.Activity), log)
		return consoleFeed{name: name, run: a.Run, updates: a.Updates(), latest: func() string {
			entries := a.Entries()
			if len(entries) == 0 {
				return ""
			}
			e := entries[0]
			subject := e.EntityName
			if subject == "" {
				subject = e.EntityID
			}
			return fmt.Sprintf("%s %s %s %s by %s",
				e.Timestamp.Local().Format(time.TimeOnly), e.Action, e.EntityType, subject, orDash(e.UserEmail))
		}}

	case "pricing":
		p := feeds.NewPricing(conn, api, feedOptions(cfg.Feeds.Pricing), log)
		return consoleFeed{name: name, run: p.Run, updates: p.Updates(), latest: func() string {
			evs := p.Events()
			if len(evs) == 0 {
				return ""
			}
			e := evs[0]
			if e.OldPrice != nil && e.NewPrice != nil {
				return fmt.Sprintf("%s %s %.2f -> %.2f %s", e.Type, orDash(e.ProductName), *e.OldPrice, *e.NewPrice, e.Currency)
			}
			detail := e.Message
			if detail == "" {
				detail = e.RuleName
			}
			return fmt.Sprintf("%s %s", e.Type, orDash(detail))
		}}

	case "workflows":
		wc := cfg.Feeds.Workflows
		w := feeds.NewWorkflows(conn, api, feeds.WorkflowOptions{
			Options:      feedOptions(wc.FeedConfig),
			Orphans:      feeds.OrphanPolicy(wc.OrphanPolicy),
			OrphanBuffer: wc.OrphanBuffer,
		}, log)
		return consoleFeed{name: name, run: w.Run, updates: w.Updates(), latest: func() string {
			execs := w.Executions()
			if len(execs) == 0 {
				return ""
			}
			x := execs[0]
			done := 0
			for _, s := range x.Steps {
				if s.Status == events.StepStatusCompleted || s.Status == events.StepStatusFailed {
					done++
				}
			}
			return fmt.Sprintf("%s %s %s (%d/%d steps)", orDash(x.WorkflowName), x.ExecutionID, x.Status, done, len(x.Steps))
		}}

	case "security":
		s := feeds.NewSecurity(conn, api, feedOptions(cfg.Feeds.Security), log)
		return consoleFeed{name: name, run: s.Run, updates: s.Updates(), latest: func() string {
			sessions := len(s.Sessions())
			evs := s.Events()
			if len(evs) == 0 {
				return fmt.Sprintf("%d active sessions", sessions)
			}
			e := evs[0]
			return fmt.Sprintf("%s %s %s | %d active sessions", e.Severity, e.Type, orDash(e.Description), sessions)
		}}

	default:
		n := feeds.NewNotifications(conn, feedOptions(cfg.Feeds.Notifications), log)
		return consoleFeed{name: name, run: n.Run, updates: n.Updates(), latest: func() string {
			items := n.Items()
			if len(items) == 0 {
				return ""
			}
			return fmt.Sprintf("%s (%d unread)", items[0].Title, n.Unread())
		}}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
