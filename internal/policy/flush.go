package policy

import (
	"fmt"

	"go.uber.org/zap"
)

// Phase is the point in the tick at which a flush is considered.
type Phase int

const (
	Periodic Phase = iota
	PreSnapshot
	PostSnapshot
	Error
	Shutdown
)

func (p Phase) String() string {
	switch p {
	case Periodic:
		return "periodic"
	case PreSnapshot:
		return "pre_snapshot"
	case PostSnapshot:
		return "post_snapshot"
	case Error:
		return "error"
	case Shutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Flusher pushes buffered log output to durable storage.
type Flusher interface {
	Flush() error
}

// LogFlushPolicy decides when buffered tick-log output is flushed.
// Shutdown always flushes.
type LogFlushPolicy struct {
	Every          uint64 // periodic cadence in ticks, 0 disables
	BeforeSnapshot bool
	AfterSnapshot  bool
	OnError        bool
	Flusher        Flusher
	Logger         *zap.Logger
}

// ShouldFlush reports whether phase triggers a flush at tick.
func (p *LogFlushPolicy) ShouldFlush(tick uint64, phase Phase, snapshotTaken bool) bool {
	switch phase {
	case Periodic:
		return p.Every > 0 && tick > 0 && tick%p.Every == 0
	case PreSnapshot:
		return p.BeforeSnapshot
	case PostSnapshot:
		return p.AfterSnapshot && snapshotTaken
	case Error:
		return p.OnError
	case Shutdown:
		return true
	}
	return false
}

// MaybeFlush flushes when ShouldFlush says so and reports whether a flush
// succeeded. Errors and panics from the flusher are logged, never returned.
func (p *LogFlushPolicy) MaybeFlush(tick uint64, phase Phase, snapshotTaken bool) (flushed bool) {
	if p.Flusher == nil || !p.ShouldFlush(tick, phase, snapshotTaken) {
		return false
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("log flush panic", zap.Uint64("tick", tick), zap.Stringer("phase", phase), zap.Any("panic", r))
			flushed = false
		}
	}()
	if err := p.Flusher.Flush(); err != nil {
		log.Error("log flush failed", zap.Uint64("tick", tick), zap.Stringer("phase", phase), zap.Error(err))
		return false
	}
	return true
}
