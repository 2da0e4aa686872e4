package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/servicehub-backend/pkg/config"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(ctx context.Context) error {
	return s.err
}

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if rec.Header().Get("X-ServiceHub-Env") != "dev" {
		t.Fatalf("expected env header")
	}
}

func TestHealthReady(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}

	cases := []struct {
		name   string
		deps   map[string]Pinger
		status int
		checks map[string]string
	}{
		{
			name:   "all up",
			deps:   map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}},
			status: http.StatusOK,
			checks: map[string]string{"db": "up", "redis": "up"},
		},
		{
			name:   "redis down",
			deps:   map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{err: errors.New("refused")}},
			status: http.StatusServiceUnavailable,
			checks: map[string]string{"db": "up", "redis": "down"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HealthReady(cfg, tc.deps, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tc.status {
				t.Fatalf("expected %d got %d", tc.status, rec.Code)
			}

			var body struct {
				Data *struct {
					Checks map[string]string `json:"checks"`
				} `json:"data"`
				Error *struct {
					Details struct {
						Checks map[string]string `json:"checks"`
					} `json:"details"`
				} `json:"error"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			got := map[string]string{}
			if body.Data != nil {
				got = body.Data.Checks
			} else if body.Error != nil {
				got = body.Error.Details.Checks
			}
			for name, want := range tc.checks {
				if got[name] != want {
					t.Fatalf("check %s: expected %s got %s", name, want, got[name])
				}
			}
		})
	}
}
