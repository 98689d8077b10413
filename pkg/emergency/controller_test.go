package emergency

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestStopFiresCallbacksOnce(t *testing.T) {
	c := New(Config{StopFile: filepath.Join(t.TempDir(), "stop")})

	fired := 0
	c.OnStop(func() { fired++ })

	c.Stop("first")
	c.Stop("second")

	if fired != 1 {
		t.Fatalf("callbacks fired %d times, want exactly once", fired)
	}
	if c.Reason() != "first" {
		t.Fatalf("reason = %q, want the first trigger's", c.Reason())
	}
	if !c.IsStopped() {
		t.Fatal("controller not marked stopped")
	}

	select {
	case <-c.StopChannel():
	default:
		t.Fatal("stop channel not closed")
	}
}

func TestStopFileTriggersAbort(t *testing.T) {
	c := New(Config{
		StopFile:     filepath.Join(t.TempDir(), "stop"),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	if err := c.CreateStopFile(); err != nil {
		t.Fatal(err)
	}
	defer c.RemoveStopFile()

	select {
	case <-c.StopChannel():
	case <-time.After(2 * time.Second):
		t.Fatal("stop file never triggered the abort")
	}
	if c.Reason() == "" {
		t.Fatal("abort recorded no reason")
	}
}

func TestRemoveStopFileToleratesMissing(t *testing.T) {
	c := New(Config{StopFile: filepath.Join(t.TempDir(), "never-created")})
	if err := c.RemoveStopFile(); err != nil {
		t.Fatalf("missing stop file treated as error: %v", err)
	}
}

func TestDefaultsApplied(t *testing.T) {
	c := New(Config{})
	if c.GetStopFilePath() != DefaultStopFile {
		t.Fatalf("default stop file = %q", c.GetStopFilePath())
	}
}
