// Package policy holds the small strategy objects the tick loop consults
// for cross-cutting concerns: when to persist a snapshot, when to flush
// the tick log, and whether the state is weak enough to degrade.
package policy

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/life"
)

// SnapshotWriter persists a snapshot and returns where it went.
type SnapshotWriter interface {
	Write(snap life.Snapshot) (string, error)
}

// SnapshotPolicy decides when to persist the full state. Write failures are
// logged and swallowed.
type SnapshotPolicy struct {
	Every  uint64 // 0 disables periodic snapshots
	Writer SnapshotWriter
	Logger *zap.Logger
	Now    func() time.Time
}

// ShouldSnapshot is true every Every ticks, never at tick 0.
func (p *SnapshotPolicy) ShouldSnapshot(tick uint64) bool {
	return p.Every > 0 && tick > 0 && tick%p.Every == 0
}

// MaybeSnapshot writes a snapshot when due and reports whether one was
// actually written.
func (p *SnapshotPolicy) MaybeSnapshot(state *life.State) bool {
	if !p.ShouldSnapshot(state.Ticks()) {
		return false
	}
	return p.write(state) == nil
}

// Force writes a snapshot regardless of cadence.
func (p *SnapshotPolicy) Force(state *life.State) error {
	return p.write(state)
}

func (p *SnapshotPolicy) write(state *life.State) (err error) {
	log := p.logger()
	if p.Writer == nil {
		return fmt.Errorf("no snapshot writer")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot writer panic: %v", r)
			log.Error("snapshot failed", zap.Uint64("tick", state.Ticks()), zap.Error(err))
		}
	}()

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	path, err := p.Writer.Write(state.Snapshot(now()))
	if err != nil {
		log.Error("snapshot failed", zap.Uint64("tick", state.Ticks()), zap.Error(err))
		return err
	}
	log.Debug("snapshot written", zap.Uint64("tick", state.Ticks()), zap.String("path", path))
	return nil
}

func (p *SnapshotPolicy) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
