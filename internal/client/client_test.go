package client

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/server"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

type staticLife struct{ view life.View }

func (s staticLife) Status() life.View { return s.view }
func (s staticLife) Running() bool     { return true }

func testClient(t *testing.T) (*Client, *store.DB, *stimulus.Queue) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	q := stimulus.NewQueue(4)
	srv := server.New(db, staticLife{view: life.View{ID: "life-1", Tick: 3}}, q, "test", nil)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return New(ts.URL + "/"), db, q
}

func TestNewFallsBackToEnv(t *testing.T) {
	t.Setenv("VIVARIUM_URL", "http://example.test:1234")
	if got := New("").URL(); got != "http://example.test:1234" {
		t.Errorf("URL = %q", got)
	}
	t.Setenv("VIVARIUM_URL", "")
	if got := New("").URL(); got != defaultServerURL {
		t.Errorf("URL = %q, want %q", got, defaultServerURL)
	}
}

func TestHealthAndStatus(t *testing.T) {
	c, _, _ := testClient(t)

	if !c.Healthy() {
		t.Fatal("Healthy = false, want true")
	}
	h, err := c.Health()
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h["version"] != "test" {
		t.Errorf("version = %v, want test", h["version"])
	}

	v, err := c.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if v.ID != "life-1" || v.Tick != 3 {
		t.Errorf("view = %+v", v)
	}
}

func TestPoke(t *testing.T) {
	c, _, q := testClient(t)

	i := -0.4
	queued, err := c.Poke(stimulus.Input{Category: "cold", Intensity: &i})
	if err != nil {
		t.Fatalf("Poke: %v", err)
	}
	if !queued {
		t.Error("queued = false, want true")
	}
	recs := q.DrainAll()
	if len(recs) != 1 || recs[0].Category != "cold" || recs[0].Intensity != -0.4 {
		t.Errorf("records = %+v", recs)
	}

	if _, err := c.Poke(stimulus.Input{}); err == nil {
		t.Error("Poke without category: expected error")
	}
}

func TestArchiveAndCausal(t *testing.T) {
	c, db, _ := testClient(t)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := db.AppendArchive("life-1", []memory.Entry{
		{Seq: 1, Category: "a", Significance: 0.5, CreatedAt: at},
		{Seq: 2, Category: "b", Significance: 0.5, CreatedAt: at},
	}, at); err != nil {
		t.Fatalf("AppendArchive: %v", err)
	}
	if err := db.AppendCausal("life-1", []life.CausalRecord{{ActionID: "approach", Category: "food", ResolvedTick: 2}}, at); err != nil {
		t.Fatalf("AppendCausal: %v", err)
	}

	entries, err := c.Archive("b", 0)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(entries) != 1 || entries[0].Entry.Seq != 2 {
		t.Errorf("entries = %+v", entries)
	}

	recs, err := c.Causal(5)
	if err != nil {
		t.Fatalf("Causal: %v", err)
	}
	if len(recs) != 1 || recs[0].Record.ActionID != "approach" {
		t.Errorf("records = %+v", recs)
	}
}

func TestUnreachableServer(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if c.Healthy() {
		t.Error("Healthy = true for an unreachable server")
	}
	if _, err := c.Status(); err == nil {
		t.Error("Status: expected error")
	}
}
