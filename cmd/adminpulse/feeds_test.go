package main

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/lirancohen/adminpulse/internal/adminapi"
	"github.com/lirancohen/adminpulse/internal/config"
	"github.com/lirancohen/adminpulse/internal/realtime"
)

func TestSelectFeeds(t *testing.T) {
	api, err := adminapi.New(adminapi.Config{URL: "http://127.0.0.1:1", SessionCookie: "s"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	conn, err := realtime.NewManager(realtime.Config{URL: "http://127.0.0.1:1"}, api)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}

	off := false
	cfg := &config.Client{}
	cfg.Feeds.Pricing.Enabled = &off
	cfg.ApplyDefaults()

	names := func(list []consoleFeed) []string {
		var out []string
		for _, f := range list {
			out = append(out, f.name)
		}
		return out
	}

	tests := []struct {
		name    string
		list    string
		want    []string
		wantErr bool
	}{
		{"enabled feeds by default", "", []string{"activity", "workflows", "security", "notifications"}, false},
		{"explicit list overrides config", "pricing, activity", []string{"activity", "pricing"}, false},
		{"unknown feed", "activity,weather", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := selectFeeds(cfg, tt.list, conn, api, zerolog.Nop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			gotNames := names(got)
			if len(gotNames) != len(tt.want) {
				t.Fatalf("Expected feeds %v, got %v", tt.want, gotNames)
			}
			for i := range tt.want {
				if gotNames[i] != tt.want[i] {
					t.Errorf("Expected feeds %v, got %v", tt.want, gotNames)
					break
				}
			}
		})
	}
}
