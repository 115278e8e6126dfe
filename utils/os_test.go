package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetOrCreateDataPaths_ExplicitDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	paths, err := GetOrCreateDataPaths(dir)
	if err != nil {
		t.Fatalf("GetOrCreateDataPaths: %v", err)
	}
	if paths.Dir != dir {
		t.Errorf("Dir: want %s, got %s", dir, paths.Dir)
	}
	if paths.DBPath != filepath.Join(dir, qakkaDbFile) {
		t.Errorf("DBPath: got %s", paths.DBPath)
	}
	if paths.PayloadsPath != filepath.Join(dir, payloadsDbFile) {
		t.Errorf("PayloadsPath: got %s", paths.PayloadsPath)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("expected directory %s to be created, err=%v", dir, err)
	}
}

func TestManualClock(t *testing.T) {
	start := time.UnixMilli(1_700_000_000_000)
	c := NewManualClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now: want %v, got %v", start, c.Now())
	}
	c.Advance(1500 * time.Millisecond)
	if got := c.Now().UnixMilli(); got != start.UnixMilli()+1500 {
		t.Errorf("after Advance: want %d, got %d", start.UnixMilli()+1500, got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("after Set: want %v, got %v", start, c.Now())
	}
}
