package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLife struct {
	view    life.View
	running bool
}

func (f *fakeLife) Status() life.View { return f.view }
func (f *fakeLife) Running() bool     { return f.running }

type testEnv struct {
	srv   *Server
	db    *store.DB
	life  *fakeLife
	queue *stimulus.Queue
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	lf := &fakeLife{view: life.View{ID: "life-1", Tick: 7, Condition: "nominal"}, running: true}
	q := stimulus.NewQueue(2)
	srv := New(db, lf, q, "test-version", nil)
	srv.now = func() time.Time { return t0 }
	return &testEnv{srv: srv, db: db, life: lf, queue: q}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.do("GET", "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]any
	decode(t, w, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["version"] != "test-version" {
		t.Errorf("version = %v, want test-version", body["version"])
	}
	if body["db"] != true {
		t.Errorf("db = %v, want true", body["db"])
	}
	if body["running"] != true {
		t.Errorf("running = %v, want true", body["running"])
	}
}

func TestHealthWithoutDB(t *testing.T) {
	srv := New(nil, nil, nil, "v", nil)
	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var body map[string]any
	decode(t, w, &body)
	if body["db"] != false || body["running"] != false {
		t.Errorf("body = %v, want db and running false", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := testServer(t)

	w := env.do("GET", "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var v life.View
	decode(t, w, &v)
	if v.ID != "life-1" || v.Tick != 7 {
		t.Errorf("view = %+v, want id life-1 tick 7", v)
	}
}

func TestPostStimulus(t *testing.T) {
	env := testServer(t)

	w := env.do("POST", "/api/stimuli", `{"category":"spike","intensity":0.8,"metadata":{"k":"v"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	var resp map[string]bool
	decode(t, w, &resp)
	if !resp["queued"] {
		t.Errorf("queued = false, want true")
	}

	recs := env.queue.DrainAll()
	if len(recs) != 1 {
		t.Fatalf("queued %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Category != "spike" || r.Intensity != 0.8 || r.Source != "api" || r.Metadata["k"] != "v" {
		t.Errorf("record = %+v", r)
	}
	if !r.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, t0)
	}
}

func TestPostStimulusRejectsMalformed(t *testing.T) {
	env := testServer(t)

	bodies := []string{
		`not json`,
		`{"intensity":0.5}`,
		`{"category":"   "}`,
		`{"category":"x","intensity":1.5}`,
		`{"category":"x","intensity":-2}`,
	}
	for _, b := range bodies {
		w := env.do("POST", "/api/stimuli", b)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", b, w.Code, http.StatusBadRequest)
		}
		var resp map[string]string
		decode(t, w, &resp)
		if resp["error"] == "" {
			t.Errorf("%s: expected error message", b)
		}
	}
	if n := env.queue.Len(); n != 0 {
		t.Errorf("queue len = %d, want 0", n)
	}
}

func TestPostStimulusQueueFull(t *testing.T) {
	env := testServer(t)

	for i := 0; i < 2; i++ {
		env.do("POST", "/api/stimuli", `{"category":"x"}`)
	}
	w := env.do("POST", "/api/stimuli", `{"category":"overflow"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]bool
	decode(t, w, &resp)
	if resp["queued"] {
		t.Errorf("queued = true, want false on a full queue")
	}
	if env.queue.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", env.queue.Dropped())
	}
}

func TestArchiveEndpoint(t *testing.T) {
	env := testServer(t)

	entries := []memory.Entry{
		{Seq: 1, Category: "spike", Significance: 0.9, Weight: 0.01, CreatedAt: t0},
		{Seq: 2, Category: "calm", Significance: 0.2, Weight: 0.01, CreatedAt: t0},
		{Seq: 3, Category: "spike", Significance: 0.5, Weight: 0.01, CreatedAt: t0},
	}
	if _, err := env.db.AppendArchive("life-1", entries, t0); err != nil {
		t.Fatalf("AppendArchive: %v", err)
	}

	w := env.do("GET", "/api/archive?category=spike&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp struct {
		Count   int                   `json:"count"`
		Total   int                   `json:"total"`
		Entries []store.ArchivedEntry `json:"entries"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Total != 3 {
		t.Errorf("count = %d total = %d, want 1 and 3", resp.Count, resp.Total)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Entry.Category != "spike" {
		t.Errorf("entries = %+v", resp.Entries)
	}

	w = env.do("GET", "/api/archive?limit=bogus", "")
	decode(t, w, &resp)
	if resp.Count != 3 {
		t.Errorf("bogus limit: count = %d, want 3", resp.Count)
	}
}

func TestCausalEndpoints(t *testing.T) {
	env := testServer(t)

	records := []life.CausalRecord{
		{ActionID: "approach", Category: "food", Delta: life.Vitals{Energy: 0.1}, RegisteredTick: 1, ResolvedTick: 3},
		{ActionID: "approach", Category: "food", Delta: life.Vitals{Energy: 0.3}, RegisteredTick: 2, ResolvedTick: 5},
		{ActionID: "withdraw", Category: "threat", Delta: life.Vitals{Stability: -0.1}, RegisteredTick: 2, ResolvedTick: 4},
	}
	if err := env.db.AppendCausal("life-1", records, t0); err != nil {
		t.Fatalf("AppendCausal: %v", err)
	}

	w := env.do("GET", "/api/causal?limit=2", "")
	var list struct {
		Count   int                 `json:"count"`
		Records []store.CausalEntry `json:"records"`
	}
	decode(t, w, &list)
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	w = env.do("GET", "/api/causal/summary", "")
	var sum struct {
		Actions []store.CausalSummary `json:"actions"`
	}
	decode(t, w, &sum)
	if len(sum.Actions) != 2 || sum.Actions[0].ActionID != "approach" || sum.Actions[0].Count != 2 {
		t.Fatalf("summary = %+v", sum.Actions)
	}
	if d := sum.Actions[0].MeanEnergy - 0.2; d > 1e-9 || d < -1e-9 {
		t.Errorf("mean energy = %v, want 0.2", sum.Actions[0].MeanEnergy)
	}
}

func TestStoreRoutesWithoutDB(t *testing.T) {
	srv := New(nil, &fakeLife{}, stimulus.NewQueue(1), "v", nil)
	for _, path := range []string{"/api/archive", "/api/causal", "/api/causal/summary"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusServiceUnavailable)
		}
	}
}
