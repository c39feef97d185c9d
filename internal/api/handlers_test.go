package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/snapcollect/collector/internal/brightdata"
	"github.com/snapcollect/collector/internal/collect"
	"github.com/snapcollect/collector/internal/config"
	"github.com/snapcollect/collector/internal/job"
	"github.com/snapcollect/collector/internal/output"
	"github.com/snapcollect/collector/internal/poll"
	"github.com/snapcollect/collector/internal/ws"
)

// stubAPI reports state for every status query until release is closed,
// then reports ready.
type stubAPI struct {
	mu      sync.Mutex
	state   poll.State
	release chan struct{}
	queries int
}

func (s *stubAPI) Trigger(ctx context.Context, datasetID string, inputs []brightdata.Input) (poll.Handle, error) {
	return "s_api", nil
}

func (s *stubAPI) FetchStatus(ctx context.Context, h poll.Handle) (poll.JobStatus, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	if s.release != nil {
		select {
		case <-s.release:
			return poll.JobStatus{State: poll.StateReady, Raw: "ready"}, nil
		default:
		}
	}
	return poll.JobStatus{State: s.state, Raw: string(s.state)}, nil
}

func (s *stubAPI) Download(ctx context.Context, h poll.Handle, format string) ([]byte, error) {
	return []byte(`[{"ok":true}]`), nil
}

type testServer struct {
	router  http.Handler
	store   *job.Store
	runner  *Runner
	results *output.Store
}

func newTestServer(t *testing.T, api *stubAPI, p collect.Policy) *testServer {
	t.Helper()
	cfg := &config.Config{
		Credentials:     config.Credentials{APIKey: "key", DatasetID: "gd_default"},
		ResultFormat:    "json",
		PollMaxAttempts: p.MaxAttempts,
		PollDelay:       p.Delay,
		OutputDir:       t.TempDir(),
	}

	store := job.NewStore()
	results := output.NewStore(cfg.OutputDir)
	hub := ws.NewHub()
	c := collect.New(api, store, results, collect.WithPolicy(p), collect.WithEvents(hub))

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewRunner(ctx, c, RunRequest{
		DatasetID: "gd_default",
		Format:    "json",
		Inputs:    []brightdata.Input{{URL: "https://example.com"}},
	})
	t.Cleanup(func() {
		cancel()
		runner.Wait()
	})

	return &testServer{
		router:  NewRouter(Deps{Config: cfg, Runs: store, Runner: runner, Results: results, Hub: hub}),
		store:   store,
		runner:  runner,
		results: results,
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubAPI{state: poll.StateReady}, collect.Policy{MaxAttempts: 1})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["status"] != "healthy" {
		t.Errorf("expected healthy, got %s", resp["status"])
	}
}

func TestInfo(t *testing.T) {
	srv := newTestServer(t, &stubAPI{state: poll.StateReady}, collect.Policy{MaxAttempts: 7, Delay: 3 * time.Second})

	req := httptest.NewRequest("GET", "/info", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp["dataset_id"] != "gd_default" {
		t.Errorf("expected gd_default, got %v", resp["dataset_id"])
	}
	pollInfo := resp["poll"].(map[string]any)
	if pollInfo["max_attempts"].(float64) != 7 {
		t.Errorf("expected 7 max attempts, got %v", pollInfo["max_attempts"])
	}
	if pollInfo["delay_seconds"].(float64) != 3 {
		t.Errorf("expected 3 second delay, got %v", pollInfo["delay_seconds"])
	}
}

func TestStats(t *testing.T) {
	srv := newTestServer(t, &stubAPI{state: poll.StateReady}, collect.Policy{MaxAttempts: 1})

	done := job.New("gd_default", 1)
	done.Finish(job.StateCompleted, "")
	srv.store.Add(done)
	srv.store.Add(job.New("gd_default", 1))

	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()

	srv.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)

	runs := resp["runs"].(map[string]any)
	if runs["total"].(float64) != 2 {
		t.Errorf("expected 2 runs, got %v", runs["total"])
	}
	byState := runs["by_state"].(map[string]any)
	if byState["completed"].(float64) != 1 {
		t.Errorf("expected 1 completed, got %v", byState["completed"])
	}
	if resp["subscribers"].(float64) != 0 {
		t.Errorf("expected 0 subscribers, got %v", resp["subscribers"])
	}
}
