package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/life"
	"github.com/lazypower/vivarium/internal/memory"
)

// DefaultMirrorCapacity is the number of pending batches a Mirror holds.
const DefaultMirrorCapacity = 64

type mirrorBatch struct {
	lifeID   string
	at       time.Time
	archived []memory.Entry
	causal   []life.CausalRecord
}

// Mirror copies archived memories and resolved causal records to an
// ArchiveSink off the tick loop. The loop hands batches over a bounded
// channel; when it is full the batch is dropped and logged. Run writes
// batches until its context ends and Drain writes whatever is left.
type Mirror struct {
	sink    ArchiveSink
	batches chan mirrorBatch
	log     *zap.Logger

	mu      sync.Mutex // one writer at a time between Run and Drain
	pending sync.WaitGroup
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewMirror returns a Mirror writing to sink. capacity <= 0 uses
// DefaultMirrorCapacity.
func NewMirror(sink ArchiveSink, capacity int, log *zap.Logger) *Mirror {
	if capacity <= 0 {
		capacity = DefaultMirrorCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{sink: sink, batches: make(chan mirrorBatch, capacity), log: log}
}

// send never blocks.
func (m *Mirror) send(b mirrorBatch) bool {
	if len(b.archived) == 0 && len(b.causal) == 0 {
		return true
	}
	m.pending.Add(1)
	select {
	case m.batches <- b:
		return true
	default:
		m.pending.Done()
		m.dropped.Add(1)
		m.log.Warn("mirror full, batch dropped",
			zap.Int("archived", len(b.archived)),
			zap.Int("causal", len(b.causal)))
		return false
	}
}

// Run writes batches as they arrive until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-m.batches:
			m.write(b)
		}
	}
}

// Drain synchronously writes every pending batch and waits for an
// in-flight write from Run. It returns the number of batches it wrote.
func (m *Mirror) Drain() int {
	n := 0
	for {
		select {
		case b := <-m.batches:
			m.write(b)
			n++
		default:
			m.pending.Wait()
			return n
		}
	}
}

// Pending is the number of batches waiting to be written.
func (m *Mirror) Pending() int { return len(m.batches) }

// Dropped is the number of batches lost to a full channel.
func (m *Mirror) Dropped() uint64 { return m.dropped.Load() }

// Written is the number of batches handed to the sink.
func (m *Mirror) Written() uint64 { return m.written.Load() }

func (m *Mirror) write(b mirrorBatch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.pending.Done()

	if len(b.archived) > 0 {
		if _, err := m.sink.AppendArchive(b.lifeID, b.archived, b.at); err != nil {
			m.log.Warn("archive mirror failed", zap.Int("entries", len(b.archived)), zap.Error(err))
		}
	}
	if len(b.causal) > 0 {
		if err := m.sink.AppendCausal(b.lifeID, b.causal, b.at); err != nil {
			m.log.Warn("causal mirror failed", zap.Int("records", len(b.causal)), zap.Error(err))
		}
	}
	m.written.Add(1)
}
