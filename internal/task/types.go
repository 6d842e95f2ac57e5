package task

import "time"

type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusDone        Status = "done"
	StatusError       Status = "error"
)

// Task is one asynchronous fetch-and-transcode job. The owning worker is the
// sole writer after creation; FilePath is set only on done, Error only on
// error, never both.
type Task struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Speed     string    `json:"speed,omitempty"`
	ETA       string    `json:"eta,omitempty"`
	FilePath  string    `json:"-"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Patch is a partial update merged into a task. Nil fields are left as-is.
type Patch struct {
	Status   *Status
	Progress *int
	Speed    *string
	ETA      *string
	FilePath *string
	Error    *string
}

// Options configures a Manager.
type Options struct {
	OutDir            string
	MaxConcurrentJobs int
	JobTimeout        time.Duration
}

const defaultMaxConcurrent = 4

func ptr[T any](v T) *T { return &v }
