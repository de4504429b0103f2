package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewFileChangeNotifierErrors(t *testing.T) {

	if _, err := NewFileChangeNotifier(nil); err == nil {
		t.Error("expected error for no descriptors")
	}

	if _, err := NewFileChangeNotifier([]DirFilesDescriptor{
		{Dir: "/no/such/dir", FileSuffixes: []string{"yaml"}},
	}); err == nil {
		t.Error("expected error for missing directory")
	}

	dir := t.TempDir()
	if _, err := NewFileChangeNotifier([]DirFilesDescriptor{
		{Dir: dir, FileSuffixes: []string{"yaml"}},
		{Dir: dir, FileSuffixes: []string{"sql"}},
	}); err == nil {
		t.Error("expected error for a directory registered twice")
	}
}

// TestWatch checks that a write to a matching file produces an update,
// while non-matching and dot files do not.
func TestWatch(t *testing.T) {

	dir := t.TempDir()

	fcn, err := NewFileChangeNotifier([]DirFilesDescriptor{
		{Dir: dir, FileSuffixes: []string{"yaml", ".yml"}},
	})
	if err != nil {
		t.Fatalf("NewFileChangeNotifier error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- fcn.Watch(ctx)
	}()

	// Allow the watch goroutines to start.
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("a: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fcn.Update():
	case <-time.After(2 * time.Second):
		t.Fatal("no update received for yaml write")
	}

	// Writes to non-matching suffixes and dot files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden.yaml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case <-fcn.Update():
		t.Error("unexpected update for ignored files")
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	if err := <-watchErr; !errors.Is(err, context.Canceled) {
		t.Errorf("watch error got %v, want context.Canceled", err)
	}
}
