package task

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tubedl/internal/engine"
	fileutil "tubedl/internal/file"
)

// ErrBusy is returned when all worker slots are occupied at accept time.
var ErrBusy = errors.New("server busy")

// Fetcher is the extraction engine seen from the worker's side.
type Fetcher interface {
	Download(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(engine.Progress)) error
}

// Manager owns the task registry and spawns one worker goroutine per
// accepted job. Each worker drives exactly one task to a terminal state and
// is the exclusive writer of that task's fields.
type Manager struct {
	registry   *Registry
	fetcher    Fetcher
	outDir     string
	jobTimeout time.Duration
	semaphore  chan struct{}
	workersWG  sync.WaitGroup

	mu      sync.Mutex
	baseCtx context.Context
}

func NewManager(fetcher Fetcher, opts Options) *Manager {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = defaultMaxConcurrent
	}
	if opts.OutDir == "" {
		opts.OutDir = "downloads"
	}
	return &Manager{
		registry:   NewRegistry(),
		fetcher:    fetcher,
		outDir:     opts.OutDir,
		jobTimeout: opts.JobTimeout,
		semaphore:  make(chan struct{}, opts.MaxConcurrentJobs),
		baseCtx:    context.Background(),
	}
}

// StartJob accepts a validated job, creates its task in the queued state and
// spawns the worker. The slot is acquired up front so an overloaded server
// rejects instead of queueing unboundedly.
func (m *Manager) StartJob(url string, quality int) (string, error) {
	select {
	case m.semaphore <- struct{}{}:
	default:
		return "", ErrBusy
	}

	id := m.registry.Create()
	m.workersWG.Add(1)
	go func() {
		defer m.workersWG.Done()
		defer func() { <-m.semaphore }()
		m.runJob(id, url, quality)
	}()

	log.Info().Str("task_id", id).Str("url", url).Int("quality", quality).Msg("job accepted")
	return id, nil
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (Task, bool) { return m.registry.Get(id) }

// Remove deletes the task record. Only the delivery path and terminal-error
// consumption call this.
func (m *Manager) Remove(id string) { m.registry.Remove(id) }

// TakeDone atomically claims a finished task for delivery, removing it so
// concurrent delivery attempts cannot both win.
func (m *Manager) TakeDone(id string) (Task, bool) { return m.registry.TakeIfDone(id) }

// ActiveJobs reports occupied worker slots.
func (m *Manager) ActiveJobs() int { return len(m.semaphore) }

// IsBusy reports whether every worker slot is occupied.
func (m *Manager) IsBusy() bool { return len(m.semaphore) >= cap(m.semaphore) }

// SetBaseContext sets the context governing worker lifetimes. Set at process
// startup and cancelled during shutdown.
func (m *Manager) SetBaseContext(ctx context.Context) {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()
}

// WaitAll blocks until all in-flight workers finish or ctx is done.
// Returns true if all workers finished.
func (m *Manager) WaitAll(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// runJob drives one task end-to-end: queued -> downloading -> done | error.
// Failures never escape the worker; they land in the task's terminal error
// field and are observed via polling.
func (m *Manager) runJob(id, url string, quality int) {
	m.mu.Lock()
	ctx := m.baseCtx
	m.mu.Unlock()
	if m.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.jobTimeout)
		defer cancel()
	}

	m.registry.Apply(id, Patch{Status: ptr(StatusDownloading)})

	// Private collision-free name: the output directory is shared by all
	// concurrent workers.
	outStem := filepath.Join(m.outDir, randomName())
	expected := outStem + ".mp4"

	onProgress := func(p engine.Progress) {
		pct := p.Percent
		if pct > 99 {
			pct = 99
		}
		m.registry.Apply(id, Patch{
			Progress: ptr(pct),
			Speed:    ptr(p.Speed),
			ETA:      ptr(p.ETA),
		})
	}

	if err := m.fetcher.Download(ctx, url, quality, outStem, onProgress); err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("job failed")
		m.registry.Apply(id, Patch{Status: ptr(StatusError), Error: ptr(err.Error())})
		return
	}

	resolved := expected
	if _, err := os.Stat(expected); err != nil {
		// Container-extension mismatch: adopt a sibling with the same stem.
		found, ok := fileutil.FindSameStem(expected)
		if !ok {
			log.Error().Str("task_id", id).Str("expected", expected).Msg("output file missing after run")
			m.registry.Apply(id, Patch{Status: ptr(StatusError), Error: ptr("file not found after download")})
			return
		}
		resolved = found
	}

	m.registry.Apply(id, Patch{
		Status:   ptr(StatusDone),
		Progress: ptr(100),
		FilePath: ptr(resolved),
	})
	log.Info().Str("task_id", id).Str("path", resolved).Msg("job completed")
}

func randomName() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
