// internal/monitoring/monitoring_test.go
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsManager_Records(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Namespace: "test"})

	mm.RecordFetch("primary", "success", 2*time.Second)
	mm.RecordFetch("primary", "success", time.Second)
	mm.RecordAttempt("secondary", "captcha", 300*time.Millisecond)
	mm.RecordRotation("secondary")
	mm.RecordRefresh("primary")
	mm.RecordCooldown("hard_block")
	mm.RecordEscalation()
	mm.RecordCaptcha("solved", time.Minute)

	snap, err := mm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	want := map[string]float64{
		"test_fetch_total{pool=primary}{result=success}":                    2,
		"test_fetch_attempts_total{classification=captcha}{pool=secondary}": 1,
		"test_proxy_rotations_total{pool=secondary}":                        1,
		"test_session_refreshes_total{pool=primary}":                        1,
		"test_fetch_cooldowns_total{reason=hard_block}":                     1,
		"test_fetch_escalations_total":                                      1,
		"test_captcha_total{result=solved}":                                 1,
		"test_captcha_duration_seconds_count":                               1,
	}
	for key, value := range want {
		if snap[key] != value {
			t.Errorf("%s = %v, want %v", key, snap[key], value)
		}
	}
}

func TestMetricsManager_IndependentRegistries(t *testing.T) {
	a := NewMetricsManager(MetricsConfig{})
	b := NewMetricsManager(MetricsConfig{})

	a.RecordEscalation()

	snapB, err := b.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snapB["scholarnav_fetch_escalations_total"] != 0 {
		t.Error("expected registries not to share state")
	}
}

func TestMetricsHandler(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Namespace: "test", EnableGoMetrics: true})
	mm.RecordRotation("secondary")

	srv := httptest.NewServer(mm.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `test_proxy_rotations_total{pool="secondary"} 1`) {
		t.Errorf("expected rotation counter in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("expected go collector metrics")
	}
}

func TestHealthManager(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus HealthStatus
		wantCode   int
	}{
		{
			name:       "no checks",
			wantStatus: HealthStatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "all healthy",
			checks: []HealthCheck{
				{Name: "primary", Critical: true, Check: func(context.Context) error { return nil }},
			},
			wantStatus: HealthStatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name: "optional failure degrades",
			checks: []HealthCheck{
				{Name: "primary", Critical: true, Check: func(context.Context) error { return nil }},
				{Name: "secondary", Check: func(context.Context) error { return errors.New("pool empty") }},
			},
			wantStatus: HealthStatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name: "critical failure",
			checks: []HealthCheck{
				{Name: "secondary", Check: func(context.Context) error { return errors.New("pool empty") }},
				{Name: "primary", Critical: true, Check: func(context.Context) error { return errors.New("down") }},
			},
			wantStatus: HealthStatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm := NewHealthManager(time.Second)
			for _, c := range tt.checks {
				hm.RegisterCheck(c)
			}

			rec := httptest.NewRecorder()
			hm.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}

			var health SystemHealth
			if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if health.Status != tt.wantStatus {
				t.Errorf("expected %s, got %s", tt.wantStatus, health.Status)
			}
			if len(health.Checks) != len(tt.checks) {
				t.Errorf("expected %d check results, got %d", len(tt.checks), len(health.Checks))
			}
		})
	}
}

func TestHealthManager_CheckTimeout(t *testing.T) {
	hm := NewHealthManager(10 * time.Millisecond)
	hm.RegisterCheck(HealthCheck{
		Name:     "slow",
		Critical: true,
		Check: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	health := hm.GetHealth(context.Background())
	if health.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", health.Status)
	}
	if !strings.Contains(health.Checks["slow"].Error, "deadline") {
		t.Errorf("expected deadline error, got %q", health.Checks["slow"].Error)
	}
}
