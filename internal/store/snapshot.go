package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/vivarium/internal/life"
)

// ErrNoSnapshot is returned when a directory holds no readable snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

const (
	snapshotPrefix = "snapshot-"
	snapshotSuffix = ".json"
)

// SnapshotName is the file name for a snapshot taken at tick.
func SnapshotName(tick uint64) string {
	return fmt.Sprintf("%s%012d%s", snapshotPrefix, tick, snapshotSuffix)
}

// SnapshotInfo describes one snapshot file.
type SnapshotInfo struct {
	Path    string    `json:"path"`
	Tick    uint64    `json:"tick"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// SnapshotDir writes numbered snapshots into a directory and keeps the
// newest Keep of them (0 keeps all). Pruning failures are logged to Logger
// and never fail a write.
type SnapshotDir struct {
	Dir    string
	Keep   int
	Logger *zap.Logger

	remove func(string) error
}

// NewSnapshotDir creates dir if needed.
func NewSnapshotDir(dir string, keep int) (*SnapshotDir, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotDir{Dir: dir, Keep: keep, Logger: zap.NewNop()}, nil
}

// Write persists snap atomically: it is encoded to a temp file in the same
// directory, synced, then renamed into place. Old snapshots beyond Keep are
// removed afterwards; the returned error only reports whether the new
// snapshot is durable.
func (d *SnapshotDir) Write(snap life.Snapshot) (string, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir, ".snapshot-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close snapshot: %w", err)
	}

	path := filepath.Join(d.Dir, SnapshotName(snap.Temporal.Ticks))
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename snapshot: %w", err)
	}

	if err := d.prune(); err != nil && d.Logger != nil {
		d.Logger.Warn("prune snapshots failed", zap.String("dir", d.Dir), zap.Error(err))
	}
	return path, nil
}

func (d *SnapshotDir) prune() error {
	if d.Keep <= 0 {
		return nil
	}
	infos, err := d.List()
	if err != nil {
		return err
	}
	remove := d.remove
	if remove == nil {
		remove = os.Remove
	}
	for len(infos) > d.Keep {
		if err := remove(infos[0].Path); err != nil && !os.IsNotExist(err) {
			return err
		}
		infos = infos[1:]
	}
	return nil
}

// List returns the snapshots in the directory, oldest first.
func (d *SnapshotDir) List() ([]SnapshotInfo, error) {
	ents, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot dir: %w", err)
	}
	var out []SnapshotInfo
	for _, e := range ents {
		tick, ok := parseSnapshotName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, SnapshotInfo{
			Path:    filepath.Join(d.Dir, e.Name()),
			Tick:    tick,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func parseSnapshotName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
	tick, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return tick, true
}

// LoadSnapshot reads one snapshot file.
func LoadSnapshot(path string) (life.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return life.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap life.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return life.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// LoadLatest returns the newest readable snapshot. Unreadable files are
// skipped in favour of older ones; ErrNoSnapshot when none remain.
func (d *SnapshotDir) LoadLatest() (life.Snapshot, SnapshotInfo, error) {
	infos, err := d.List()
	if err != nil {
		return life.Snapshot{}, SnapshotInfo{}, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		snap, err := LoadSnapshot(infos[i].Path)
		if err == nil {
			return snap, infos[i], nil
		}
	}
	return life.Snapshot{}, SnapshotInfo{}, ErrNoSnapshot
}
