package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
)

type slowSink struct {
	delay time.Duration

	mu       sync.Mutex
	archived []memory.Entry
	causal   []life.CausalRecord
}

func (s *slowSink) AppendArchive(lifeID string, entries []memory.Entry, at time.Time) (int, error) {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, entries...)
	return len(entries), nil
}

func (s *slowSink) AppendCausal(lifeID string, records []life.CausalRecord, at time.Time) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.causal = append(s.causal, records...)
	return nil
}

func (s *slowSink) archivedLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.archived)
}

func TestSlowSinkDoesNotStretchStep(t *testing.T) {
	sink := &slowSink{delay: 200 * time.Millisecond}
	mirror := NewMirror(sink, 0, nil)
	h := newHarness(t, quiet().Set(), Policies{}, Options{}, life.Options{MemoryCap: 1}, WithMirror(mirror))

	h.push(t, "a", 0.5)
	h.push(t, "b", 0.5)
	start := time.Now()
	rep := h.step(t)
	took := time.Since(start)

	assert.Equal(t, 1, rep.Archived)
	assert.Less(t, took, 100*time.Millisecond)
	assert.Equal(t, 1, mirror.Pending())
	assert.Zero(t, sink.archivedLen(), "nothing written on the tick path")

	assert.Equal(t, 1, mirror.Drain())
	assert.Equal(t, 1, sink.archivedLen())
	assert.Equal(t, uint64(1), mirror.Written())
}

func TestMirrorRunWritesUntilCancelled(t *testing.T) {
	sink := &slowSink{}
	mirror := NewMirror(sink, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mirror.Run(ctx) }()

	require.True(t, mirror.send(mirrorBatch{lifeID: "l", at: t0, archived: []memory.Entry{{Category: "a"}}}))
	require.Eventually(t, func() bool { return mirror.Written() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, sink.archivedLen())
}

func TestMirrorDropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	sink := &slowSink{}
	mirror := NewMirror(sink, 1, zap.New(core))

	batch := mirrorBatch{lifeID: "l", at: t0, archived: []memory.Entry{{Category: "a"}}}
	assert.True(t, mirror.send(batch))
	assert.False(t, mirror.send(batch))
	assert.True(t, mirror.send(mirrorBatch{lifeID: "l", at: t0}), "empty batches are not queued")

	assert.Equal(t, uint64(1), mirror.Dropped())
	assert.Equal(t, 1, logs.FilterMessage("mirror full, batch dropped").Len())
	assert.Equal(t, 1, mirror.Drain())
	assert.Equal(t, 1, sink.archivedLen())
}
