package metrics

import (
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotSortedByPath(t *testing.T) {
	m := NewManager()
	m.RecordDuration("stt", "openai", 120*time.Millisecond)
	m.RecordDuration("stt", "openai", 80*time.Millisecond)
	m.AddCounter("history", "append", 1)
	m.RecordSuccess("stt", "groq")
	m.RecordFailure("stt", "groq", "timeout")

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("len(snapshot) = %d, want 3", len(snap))
	}
	want := []string{"history/append", "stt/groq", "stt/openai"}
	for i, p := range want {
		if snap[i].Path != p {
			t.Errorf("snap[%d].Path = %q, want %q", i, snap[i].Path, p)
		}
	}

	timing := snap[2].Data.(TimingSnapshot)
	if timing.Count != 2 || timing.AvgMs != 100 || timing.MinMs != 80 || timing.MaxMs != 120 {
		t.Errorf("timing = %+v", timing)
	}

	sf := snap[1].Data.(SuccessFailSnapshot)
	if sf.Success != 1 || sf.Failures != 1 || sf.SuccessRate != 50 || sf.FailureReasons["timeout"] != 1 {
		t.Errorf("success/fail = %+v", sf)
	}
}

func TestStartEndTiming(t *testing.T) {
	m := NewManager()
	key := m.StartTiming("transcode", "ffmpeg")
	m.EndTiming(key)
	m.EndTiming(key) // second end is ignored

	snap := m.Snapshot()
	if len(snap) != 1 || snap[0].Path != "transcode/ffmpeg" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if got := snap[0].Data.(TimingSnapshot).Count; got != 1 {
		t.Errorf("Count = %d, want 1", got)
	}
}

func TestPersistRestore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "metrics.db")

	m := NewManager()
	if err := m.Open(dbPath); err != nil {
		t.Fatalf("Open: %v", err)
	}
	m.RecordDuration("stt", "assemblyai", 2*time.Second)
	m.AddCounter("history", "append", 3)
	m.RecordFailure("stt", "assemblyai", "provider")
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restored := NewManager()
	if err := restored.Open(dbPath); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer restored.Close()

	snap := restored.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("restored %d metrics, want 3", len(snap))
	}
	if v := snap[0].Data.(CounterSnapshot).Value; v != 3 {
		t.Errorf("counter = %d, want 3", v)
	}
	var timingSeen, sfSeen bool
	for _, s := range snap[1:] {
		switch d := s.Data.(type) {
		case TimingSnapshot:
			timingSeen = d.Count == 1 && d.LastMs == 2000
		case SuccessFailSnapshot:
			sfSeen = d.Failures == 1 && d.FailureReasons["provider"] == 1
		}
	}
	if !timingSeen || !sfSeen {
		t.Errorf("restored snapshot = %+v", snap)
	}
}

func TestPackageHelpersUseSharedInstance(t *testing.T) {
	key := MetricStart("test-helpers", "timed")
	MetricEnd(key)
	MetricAdd("test-helpers", "bytes", 512)
	MetricAdd("test-helpers", "bytes", 512)

	found := map[string]MetricSnapshot{}
	for _, s := range GetInstance().Snapshot() {
		found[s.Path] = s
	}
	if s, ok := found["test-helpers/timed"]; !ok || s.Type != TypeTiming {
		t.Errorf("timing missing: %+v", found)
	}
	if s, ok := found["test-helpers/bytes"]; !ok || s.Data.(CounterSnapshot).Value != 1024 {
		t.Errorf("counter = %+v", s)
	}
}
