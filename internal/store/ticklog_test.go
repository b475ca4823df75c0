package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/vivarium/internal/life"
)

func TestTickLogBuffersUntilFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), TickLogFile)
	l, err := OpenTickLog(path)
	if err != nil {
		t.Fatalf("OpenTickLog: %v", err)
	}
	defer l.Close()

	for i := uint64(1); i <= 3; i++ {
		if err := l.Append(TickRecord{Tick: i, At: t0, Vitals: life.Vitals{Energy: 1}, Condition: "nominal"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if l.Buffered() == 0 {
		t.Error("Buffered = 0 before flush")
	}
	info, _ := os.Stat(path)
	if info.Size() != 0 {
		t.Errorf("file size before flush = %d, want 0", info.Size())
	}

	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	recs, err := ReadTicks(path, 0)
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(recs) != 3 || recs[2].Tick != 3 || recs[0].Condition != "nominal" {
		t.Errorf("records = %+v", recs)
	}
}

func TestTickLogCloseFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), TickLogFile)
	l, err := OpenTickLog(path)
	if err != nil {
		t.Fatalf("OpenTickLog: %v", err)
	}
	l.Append(TickRecord{Tick: 1})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := l.Append(TickRecord{Tick: 2}); err == nil {
		t.Error("Append after Close succeeded")
	}
	recs, _ := ReadTicks(path, 0)
	if len(recs) != 1 {
		t.Errorf("got %d records, want 1", len(recs))
	}
}

func TestParseTicksSkipsMalformedAndKeepsLast(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "{\"tick\":%d}\n", i)
		if i == 5 {
			b.WriteString("not json\n\n")
		}
	}
	recs, err := ParseTicks(strings.NewReader(b.String()), 0)
	if err != nil {
		t.Fatalf("ParseTicks: %v", err)
	}
	if len(recs) != 10 {
		t.Fatalf("got %d records, want 10", len(recs))
	}

	last, _ := ParseTicks(strings.NewReader(b.String()), 3)
	if len(last) != 3 || last[0].Tick != 8 || last[2].Tick != 10 {
		t.Errorf("last 3 = %+v", last)
	}
}

func TestReadTicksMissingFile(t *testing.T) {
	if _, err := ReadTicks(filepath.Join(t.TempDir(), "nope.jsonl"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
