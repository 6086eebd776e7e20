package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/registry/internal/auth"
	"github.com/dukerupert/registry/internal/config"
	"github.com/dukerupert/registry/internal/database"
	"github.com/dukerupert/registry/internal/indicator"
	"github.com/dukerupert/registry/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		Addr:            ":0",
		DBPath:          ":memory:",
		LogLevel:        "info",
		LogFormat:       "text",
		RateLimit:       1000,
		RateLimitWindow: time.Minute,
		Recompute: config.RecomputeConfig{
			BatchSize:          100,
			Debounce:           10 * time.Millisecond,
			DirtyCapacity:      100,
			InteractiveWorkers: 2,
			BatchWorkers:       1,
			MaxAttempts:        3,
			ResumeOnStart:      true,
		},
		Backup: config.BackupConfig{RetentionDays: 30},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, db, logger)
	require.NoError(t, srv.Start(context.Background()))

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
		db.Close()
	})
	return srv, ts
}

func call(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := call(t, ts, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("Content-Type"))
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": "G"})
	resp := call(t, ts, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "go_goroutines"))
}

func TestWritesRequireToken(t *testing.T) {
	cfg := testConfig()
	hash, err := auth.HashToken("s3cret")
	require.NoError(t, err)
	cfg.AdminTokenHash = hash
	_, ts := newTestServer(t, cfg)

	resp := call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": "G"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/api/groups", "wrong", map[string]string{"name": "G"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = call(t, ts, http.MethodPost, "/api/groups", "s3cret", map[string]string{"name": "G"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = call(t, ts, http.MethodGet, "/api/groups", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Registrant](t, resp), 1)

	resp = call(t, ts, http.MethodGet, "/api/backups", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWritesAreRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 2
	_, ts := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		resp := call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": fmt.Sprintf("G%d", i)})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	resp := call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": "G3"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp = call(t, ts, http.MethodGet, "/api/groups", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMembershipChangeRecomputesIndicators(t *testing.T) {
	_, ts := newTestServer(t, testConfig())

	resp := call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": "Household"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[model.Registrant](t, resp)

	members := fmt.Sprintf("/api/groups/%d/members", group.ID)
	resp = call(t, ts, http.MethodPost, members, "", map[string]any{
		"individual": map[string]any{"name": "Ana", "gender": "female", "birthdate": "1980-03-02"},
		"kinds":      []string{"Head"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = call(t, ts, http.MethodPost, members, "", map[string]any{
		"individual": map[string]any{"name": "Kid", "birthdate": time.Now().AddDate(-4, 0, 0).Format(time.DateOnly)},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	want := map[string]int64{
		indicator.NumIndividuals: 2,
		indicator.NumChildren:    1,
		indicator.NumWomen:       1,
		indicator.IsHeaded:       1,
	}
	require.Eventually(t, func() bool {
		resp := call(t, ts, http.MethodGet, fmt.Sprintf("/api/groups/%d", group.ID), "", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		g := decode[model.Group](t, resp)
		got := make(map[string]int64, len(g.Indicators))
		for _, v := range g.Indicators {
			got[v.Name] = v.Value
		}
		for name, value := range want {
			if got[name] != value {
				return false
			}
		}
		return g.Recompute != nil && !g.Recompute.Dirty()
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStartResumesDirtyGroups(t *testing.T) {
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := New(testConfig(), db, logger)
	ts := httptest.NewServer(first.Router())
	resp := call(t, ts, http.MethodPost, "/api/groups", "", map[string]string{"name": "G"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	group := decode[model.Registrant](t, resp)
	resp = call(t, ts, http.MethodPost, fmt.Sprintf("/api/groups/%d/members", group.ID), "", map[string]any{
		"individual": map[string]any{"name": "Ana"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	ts.Close()
	// never started: the mark is only recorded as a canary
	first.trigger.Dirty().Stop()

	second := New(testConfig(), db, logger)
	require.NoError(t, second.Start(context.Background()))
	t.Cleanup(second.Stop)

	ts = httptest.NewServer(second.Router())
	t.Cleanup(ts.Close)
	require.Eventually(t, func() bool {
		resp := call(t, ts, http.MethodGet, fmt.Sprintf("/api/groups/%d", group.ID), "", nil)
		g := decode[model.Group](t, resp)
		return g.Recompute != nil && !g.Recompute.Dirty() && len(g.Indicators) > 0
	}, 5*time.Second, 20*time.Millisecond)
}
