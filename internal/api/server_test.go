package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/truescope/truescope/internal/config"
	"github.com/truescope/truescope/internal/pipeline"
	"github.com/truescope/truescope/internal/scheduler"
	"github.com/truescope/truescope/internal/source"
	"github.com/truescope/truescope/internal/store"
)

const (
	testCronSecret = "cron-secret"
	testJWTSecret  = "jwt-secret"
)

const feedXML = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title>
<item><title>Senate passes budget bill</title><link>https://example.com/a</link>
<description>Story.</description><pubDate>Thu, 01 May 2026 08:00:00 +0000</pubDate></item>
</channel></rss>`

// testServer wires a full control surface over a live feed server and a
// temp store.
func testServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedXML)
	}))
	t.Cleanup(feed.Close)

	st, err := store.New(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	catalog, err := source.NewCatalog([]config.SourceConfig{
		{ID: "s1", Name: "s1", FeedURL: feed.URL, Bias: "CENTER", Enabled: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	fetcher := source.NewFetcher(2*time.Second, "truescope-test/1.0")
	controller := pipeline.NewController(catalog, fetcher, st, nil, config.BalanceConfig{
		MaxArticles:         12,
		SimilarityThreshold: 0.6,
		ExclusiveBiasCap:    1.0,
	})
	sched := scheduler.New(controller, nil, time.Hour, 0)
	t.Cleanup(sched.Stop)

	return NewServer(sched, controller, st, testCronSecret, testJWTSecret), st
}

func doJSON(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := GenerateToken([]byte(testJWTSecret), "admin", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func TestTrigger_RejectsMissingSecret(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/automation/trigger", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTrigger_RejectsWrongSecret(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/automation/trigger", "wrong", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestTrigger_RunsPipeline(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/automation/trigger", testCronSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp runSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != pipeline.RunSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", resp.Status, resp.Error)
	}
	if resp.RunID == "" {
		t.Fatal("expected a run id in the summary")
	}
}

func TestControl_RequiresAdminToken(t *testing.T) {
	s, _ := testServer(t)
	h := s.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/automation/control", "", `{"action":"start"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	// A valid token with the wrong role is rejected too.
	viewer, err := GenerateToken([]byte(testJWTSecret), "viewer", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	rec = doJSON(t, h, http.MethodPost, "/api/automation/control", viewer, `{"action":"start"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for non-admin role, got %d", rec.Code)
	}
}

func TestControl_StartStop(t *testing.T) {
	s, _ := testServer(t)
	h := s.Routes()
	token := adminToken(t)

	rec := doJSON(t, h, http.MethodPost, "/api/automation/control", token, `{"action":"start"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["state"] != string(scheduler.StateRunning) {
		t.Fatalf("expected RUNNING, got %q", resp["state"])
	}

	// Starting an armed scheduler is not an error.
	rec = doJSON(t, h, http.MethodPost, "/api/automation/control", token, `{"action":"start"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeated start, got %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/automation/control", token, `{"action":"stop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["state"] != string(scheduler.StateStopped) {
		t.Fatalf("expected STOPPED, got %q", resp["state"])
	}
}

func TestControl_UnrecognizedAction(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/automation/control", adminToken(t), `{"action":"reboot"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
	var resp map[string]string
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["action"] != "reboot" {
		t.Fatalf("expected the rejected action echoed, got %+v", resp)
	}
}

func TestControl_TriggerNews(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/automation/control", adminToken(t), `{"action":"trigger-news"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatus_Public(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/automation/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Scheduler string          `json:"scheduler"`
		Status    pipeline.Status `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Scheduler != string(scheduler.StateStopped) {
		t.Fatalf("expected STOPPED scheduler, got %q", resp.Scheduler)
	}
	if resp.Status.IsRunning {
		t.Fatal("expected no active run")
	}
}

func TestHealth_Public(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/automation/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var h pipeline.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &h); err != nil {
		t.Fatal(err)
	}
	if !h.SourcesReachable || !h.StoreReachable {
		t.Fatalf("expected sources and store reachable, got %+v", h)
	}
}

func TestListArticles(t *testing.T) {
	s, st := testServer(t)
	ctx := context.Background()

	if _, err := st.SaveArticles(ctx, []store.PublishedArticle{{
		SourceID:    "s1",
		SourceBias:  source.BiasCenter,
		Title:       "Senate passes budget bill",
		Content:     "Story.",
		ExternalURL: "https://example.com/a",
		PublishedAt: time.Now().UTC(),
		ContentHash: "deadbeef",
	}}); err != nil {
		t.Fatal(err)
	}

	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/articles", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Articles []store.PublishedArticle `json:"articles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(resp.Articles))
	}
}

func TestListArticles_BadSince(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/articles?since=yesterday", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVote(t *testing.T) {
	s, st := testServer(t)
	ctx := context.Background()

	inserted, err := st.SaveArticles(ctx, []store.PublishedArticle{{
		SourceID:    "s1",
		SourceBias:  source.BiasCenter,
		Title:       "Senate passes budget bill",
		Content:     "Story.",
		ExternalURL: "https://example.com/a",
		PublishedAt: time.Now().UTC(),
		ContentHash: "deadbeef",
	}})
	if err != nil {
		t.Fatal(err)
	}
	h := s.Routes()
	path := fmt.Sprintf("/api/articles/%d/vote", inserted[0].ID)

	rec := doJSON(t, h, http.MethodPost, path, "", `{"direction":"up"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var counts map[string]int
	json.Unmarshal(rec.Body.Bytes(), &counts)
	if counts["votes_up"] != 1 || counts["votes_down"] != 0 {
		t.Fatalf("expected 1/0, got %+v", counts)
	}

	rec = doJSON(t, h, http.MethodPost, path, "", `{"direction":"sideways"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad direction, got %d", rec.Code)
	}
}

func TestVote_MissingArticle(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/articles/999/vote", "", `{"direction":"up"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestVote_BadID(t *testing.T) {
	s, _ := testServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/articles/abc/vote", "", `{"direction":"up"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
