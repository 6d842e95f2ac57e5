package task

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"tubedl/internal/engine"
)

// fakeFetcher drives a job without touching the network.
type fakeFetcher struct {
	run func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error
}

func (f *fakeFetcher) Download(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
	return f.run(ctx, url, maxHeight, outStem, onProgress)
}

func waitTerminal(t *testing.T, m *Manager, id string) Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := m.Get(id); ok {
			if snap.Status == StatusDone || snap.Status == StatusError {
				return snap
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for terminal state")
	return Task{}
}

func TestJobRunsToDone(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		onProgress(engine.Progress{Percent: 40, Speed: "1MiB/s", ETA: "00:30"})
		onProgress(engine.Progress{Percent: 99})
		return os.WriteFile(outStem+".mp4", []byte("video-bytes"), 0o600)
	}}
	m := NewManager(fetcher, Options{OutDir: dir, MaxConcurrentJobs: 1})

	id, err := m.StartJob("https://youtu.be/abc", 1080)
	if err != nil {
		t.Fatalf("start job: %v", err)
	}

	snap := waitTerminal(t, m, id)
	if snap.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", snap.Status, snap.Error)
	}
	if snap.Progress != 100 {
		t.Fatalf("expected final progress 100, got %d", snap.Progress)
	}
	if snap.FilePath == "" {
		t.Fatal("expected filepath on done")
	}
	if snap.Error != "" {
		t.Fatal("done task must not carry an error")
	}
	if _, err := os.Stat(snap.FilePath); err != nil {
		t.Fatalf("artifact missing on disk: %v", err)
	}
}

func TestJobAdoptsSameStemOutput(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		// Merge produced a different container than requested.
		return os.WriteFile(outStem+".webm", []byte("x"), 0o600)
	}}
	m := NewManager(fetcher, Options{OutDir: dir, MaxConcurrentJobs: 1})

	id, _ := m.StartJob("https://youtu.be/abc", 720)
	snap := waitTerminal(t, m, id)
	if snap.Status != StatusDone {
		t.Fatalf("expected done, got %s (%s)", snap.Status, snap.Error)
	}
	if ext := snap.FilePath[len(snap.FilePath)-5:]; ext != ".webm" {
		t.Fatalf("expected adopted .webm path, got %q", snap.FilePath)
	}
}

func TestJobFailsWhenNoOutputProduced(t *testing.T) {
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		return nil
	}}
	m := NewManager(fetcher, Options{OutDir: t.TempDir(), MaxConcurrentJobs: 1})

	id, _ := m.StartJob("https://youtu.be/abc", 720)
	snap := waitTerminal(t, m, id)
	if snap.Status != StatusError || snap.Error == "" {
		t.Fatalf("expected error state, got %+v", snap)
	}
	if snap.FilePath != "" {
		t.Fatal("failed task must not carry a filepath")
	}
}

func TestJobFailureLandsInErrorField(t *testing.T) {
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		return errors.New("this video is not available in your region")
	}}
	m := NewManager(fetcher, Options{OutDir: t.TempDir(), MaxConcurrentJobs: 1})

	id, _ := m.StartJob("https://youtu.be/abc", 720)
	snap := waitTerminal(t, m, id)
	if snap.Status != StatusError {
		t.Fatalf("expected error state, got %s", snap.Status)
	}
	if snap.Error != "this video is not available in your region" {
		t.Fatalf("unexpected error message: %q", snap.Error)
	}
}

func TestProgressCappedBeforeTerminal(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		onProgress(engine.Progress{Percent: 100})
		return os.WriteFile(outStem+".mp4", []byte("x"), 0o600)
	}}
	m := NewManager(fetcher, Options{OutDir: dir, MaxConcurrentJobs: 1})

	id, _ := m.StartJob("https://youtu.be/abc", 720)
	snap := waitTerminal(t, m, id)
	if snap.Status != StatusDone || snap.Progress != 100 {
		t.Fatalf("expected done/100, got %s/%d", snap.Status, snap.Progress)
	}
}

func TestStartJobRejectsWhenBusy(t *testing.T) {
	blocker := make(chan struct{})
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		<-blocker
		return os.WriteFile(outStem+".mp4", []byte("x"), 0o600)
	}}
	m := NewManager(fetcher, Options{OutDir: t.TempDir(), MaxConcurrentJobs: 1})

	if _, err := m.StartJob("https://youtu.be/a", 720); err != nil {
		t.Fatalf("first job should be accepted: %v", err)
	}
	if !m.IsBusy() {
		t.Fatal("expected manager to be busy")
	}
	if _, err := m.StartJob("https://youtu.be/b", 720); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	close(blocker)
	if !m.WaitAll(context.Background()) {
		t.Fatal("expected workers to finish")
	}
}

func TestWorkerToleratesRemovedTask(t *testing.T) {
	dir := t.TempDir()
	started := make(chan string, 1)
	release := make(chan struct{})
	fetcher := &fakeFetcher{run: func(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error {
		started <- outStem
		<-release
		return os.WriteFile(outStem+".mp4", []byte("x"), 0o600)
	}}
	m := NewManager(fetcher, Options{OutDir: dir, MaxConcurrentJobs: 1})

	id, _ := m.StartJob("https://youtu.be/abc", 720)
	<-started
	m.Remove(id)
	close(release)

	if !m.WaitAll(context.Background()) {
		t.Fatal("expected worker to finish")
	}
	if _, ok := m.Get(id); ok {
		t.Fatal("removed task must not reappear after worker completion")
	}
}
