package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/config"
	"github.com/lazypower/vivarium/internal/memory"
	"github.com/lazypower/vivarium/internal/server"
	"github.com/lazypower/vivarium/internal/stimulus"
	"github.com/lazypower/vivarium/internal/store"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	c := config.Default()
	c.Data.Dir = t.TempDir()
	c.Loop.TickInterval = 10 * time.Millisecond
	c.Producers.Generator.Enabled = false
	c.Producers.Host.Enabled = false
	c.Producers.Inbox.Enabled = false
	return c
}

func TestOpenRigNewThenResume(t *testing.T) {
	c := testConfig(t)

	r, err := openRig(c, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, r.restored)
	id := r.engine.State().ID()

	for i := 0; i < 3; i++ {
		r.engine.Step(context.Background())
	}
	_, err = r.snapshots.Write(r.engine.State().Snapshot(time.Now()))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r, err = openRig(c, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.restored)
	assert.Equal(t, id, r.engine.State().ID())
	assert.Equal(t, uint64(3), r.engine.State().Ticks())
}

func TestServeStopsOnCancel(t *testing.T) {
	c := testConfig(t)
	c.Producers.Inbox.Enabled = true

	r, err := openRig(c, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, "127.0.0.1:0", zap.NewNop()) }()

	require.Eventually(t, func() bool { return r.engine.Status().Tick >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
	assert.False(t, r.engine.Running())
	assert.DirExists(t, filepath.Join(c.Data.Dir, "inbox"))

	infos, err := r.snapshots.List()
	require.NoError(t, err)
	assert.NotEmpty(t, infos, "shutdown writes a final snapshot")
}

func TestProducersFollowConfig(t *testing.T) {
	c := testConfig(t)
	r, err := openRig(c, zap.NewNop())
	require.NoError(t, err)
	defer r.Close()

	ps, err := r.producers(zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, ps)

	r.cfg.Producers.Generator.Enabled = true
	r.cfg.Producers.Host.Enabled = true
	ps, err = r.producers(zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, ps, 2)
}

// execute runs the root command with a config file pointing at c.
func execute(t *testing.T, c config.Config, args ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, c.Save(path))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", path}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestInspectCommands(t *testing.T) {
	c := testConfig(t)

	r, err := openRig(c, zap.NewNop())
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		r.engine.Step(context.Background())
	}
	require.NoError(t, r.ticks.Flush())
	_, err = r.snapshots.Write(r.engine.State().Snapshot(time.Now()))
	require.NoError(t, err)
	_, err = r.db.AppendArchive("life-x", []memory.Entry{
		{Seq: 1, Category: "storm", Significance: 0.7, Weight: 0.01, CreatedAt: time.Now()},
	}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.Close())

	out := execute(t, c, "ticks", "-n", "2")
	assert.Contains(t, out, "TICK")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3, "header plus two ticks")

	out = execute(t, c, "snapshots")
	assert.Contains(t, out, store.SnapshotName(4))

	out = execute(t, c, "archive", "-c", "storm")
	assert.Contains(t, out, "storm")

	out = execute(t, c, "version")
	assert.Contains(t, out, "vivarium dev")
}

func TestInspectEmptyDataDir(t *testing.T) {
	c := testConfig(t)
	assert.Contains(t, execute(t, c, "ticks"), "No ticks logged yet.")
	assert.Contains(t, execute(t, c, "snapshots"), "No snapshots yet.")
}

func TestPokeCommand(t *testing.T) {
	q := stimulus.NewQueue(4)
	ts := httptest.NewServer(server.New(nil, nil, q, "test", nil))
	defer ts.Close()

	c := testConfig(t)
	out := execute(t, c, "--url", ts.URL, "poke", "food", "-i", "0.5", "-m", "by=test")
	assert.Contains(t, out, "queued food")

	recs := q.DrainAll()
	require.Len(t, recs, 1)
	assert.Equal(t, "food", recs[0].Category)
	assert.Equal(t, 0.5, recs[0].Intensity)
	assert.Equal(t, map[string]string{"by": "test"}, recs[0].Metadata)
}
