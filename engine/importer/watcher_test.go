package importer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSourceWatcherResubmitsOnWrite(t *testing.T) {
	opts := testServiceOptions()
	opts.WatchDebounceMillis = 20
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	watchRoot := t.TempDir()
	done := make(chan ImportReport, 4)
	watcher, err := NewSourceWatcher(svc, t.TempDir(), func(_ ImportJobID, report ImportReport) {
		done <- report
	})
	if err != nil {
		t.Fatalf("NewSourceWatcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.WatchRoot(watchRoot); err != nil {
		t.Fatalf("WatchRoot: %v", err)
	}

	src := filepath.Join(watchRoot, "albedo.png")
	writeTestPNG(t, src, 4)

	// The change debounces into one import of the real file.
	select {
	case report := <-done:
		if !report.Success {
			t.Fatalf("watched import failed: %v", report.Diagnostics)
		}
		if report.TexturesWritten != 1 {
			t.Fatalf("textures written = %d", report.TexturesWritten)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for watcher-driven import")
	}
}

func TestSourceWatcherIgnoresUnknownExtensions(t *testing.T) {
	opts := testServiceOptions()
	opts.WatchDebounceMillis = 10
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	watchRoot := t.TempDir()
	done := make(chan ImportReport, 1)
	watcher, err := NewSourceWatcher(svc, t.TempDir(), func(_ ImportJobID, report ImportReport) {
		done <- report
	})
	if err != nil {
		t.Fatalf("NewSourceWatcher: %v", err)
	}
	defer watcher.Close()
	if err := watcher.WatchRoot(watchRoot); err != nil {
		t.Fatalf("WatchRoot: %v", err)
	}

	if err := os.WriteFile(filepath.Join(watchRoot, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	select {
	case <-done:
		t.Fatal("unknown extension triggered an import")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSourceWatcherCloseIsIdempotent(t *testing.T) {
	svc, err := NewService(testServiceOptions())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop()

	watcher, err := NewSourceWatcher(svc, t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewSourceWatcher: %v", err)
	}
	watcher.Close()
	watcher.Close()
	if err := watcher.WatchRoot(t.TempDir()); err == nil {
		t.Fatal("WatchRoot accepted after Close")
	}
}
