package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"tubedl/internal/engine"
	fileutil "tubedl/internal/file"
	"tubedl/internal/task"
	"tubedl/internal/token"
	"tubedl/internal/validate"
)

// MetadataFetcher is the metadata side of the extraction gateway.
type MetadataFetcher interface {
	FetchInfo(ctx context.Context, url string) (engine.VideoInfo, error)
}

type infoRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL         string `json:"url"`
	Resolution  any    `json:"resolution"`
	UnlockToken string `json:"unlock_token"`
}

type API struct {
	manager     *task.Manager
	metadata    MetadataFetcher
	tokens      *token.Store
	downloadDir string
}

func NewAPI(manager *task.Manager, metadata MetadataFetcher, tokens *token.Store, downloadDir string) *API {
	return &API{
		manager:     manager,
		metadata:    metadata,
		tokens:      tokens,
		downloadDir: downloadDir,
	}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/info", a.FetchInfo)
		api.POST("/token", a.IssueToken)
		api.POST("/download", a.StartDownload)
		api.GET("/progress/:id", a.Progress)
		api.GET("/file/:id", a.FetchFile)
	}
	router.GET("/healthz", a.Health)
}

// FetchInfo validates the URL and returns cached or freshly extracted
// metadata.
func (a *API) FetchInfo(c *gin.Context) {
	var req infoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := validate.SourceURL(req.URL); err != nil {
		log.Warn().Str("url", req.URL).Err(err).Msg("rejected info request")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := a.metadata.FetchInfo(c.Request.Context(), strings.TrimSpace(req.URL))
	if err != nil {
		status, msg := upstreamStatus(err)
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, info)
}

// IssueToken hands out a short-lived single-use token unlocking the top
// quality tier.
func (a *API) IssueToken(c *gin.Context) {
	tok := a.tokens.Issue()
	log.Info().Msg("4K unlock token issued")
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

// StartDownload validates the request, enforces the unlock gate for the top
// tier and accepts an asynchronous job.
func (a *API) StartDownload(c *gin.Context) {
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := validate.SourceURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	quality, err := validate.Quality(resolutionText(req.Resolution))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if quality == validate.MaxQuality && !a.tokens.Consume(strings.TrimSpace(req.UnlockToken)) {
		log.Warn().Msg("rejected 2160p job: unlock token missing or expired")
		c.JSON(http.StatusForbidden, gin.H{"error": "4K unlock token missing or expired; complete the unlock step first"})
		return
	}

	id, err := a.manager.StartJob(strings.TrimSpace(req.URL), quality)
	if err != nil {
		if errors.Is(err, task.ErrBusy) {
			log.Warn().Msg("rejecting job: server is at max concurrency")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server busy, try again later"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": id})
}

// Progress returns the current task snapshot. Surfacing a terminal error
// consumes the task record.
func (a *API) Progress(c *gin.Context) {
	id := c.Param("id")
	snapshot, ok := a.manager.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if snapshot.Status == task.StatusError {
		a.manager.Remove(id)
	}
	c.JSON(http.StatusOK, snapshot)
}

// FetchFile streams the finished artifact. The task record is claimed
// atomically before anything else, so of any number of concurrent attempts
// exactly one delivers and the rest see not-found; the backing file is
// deleted on every exit path, success or failure.
func (a *API) FetchFile(c *gin.Context) {
	id := c.Param("id")
	snapshot, claimed := a.manager.TakeDone(id)
	if !claimed {
		// The claim refuses both unknown and unfinished tasks; a plain
		// read distinguishes the two.
		if _, ok := a.manager.Get(id); ok {
			c.JSON(http.StatusConflict, gin.H{"error": "download not finished"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	// The ID is invalid from here on; any failure below still consumes the
	// record, since the artifact can never be delivered.
	if !fileutil.WithinDir(a.downloadDir, snapshot.FilePath) {
		log.Error().Str("task_id", id).Str("path", snapshot.FilePath).Msg("artifact path escapes download dir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file missing on server"})
		return
	}

	f, err := os.Open(snapshot.FilePath) //nolint:gosec // path is registry-owned and checked above
	if err != nil {
		log.Error().Str("task_id", id).Str("path", snapshot.FilePath).Err(err).Msg("artifact vanished before delivery")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file missing on server"})
		return
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file missing on server"})
		return
	}

	defer func() {
		_ = f.Close()
		if err := os.Remove(snapshot.FilePath); err != nil {
			log.Warn().Str("path", snapshot.FilePath).Err(err).Msg("could not delete delivered artifact")
		} else {
			log.Info().Str("path", snapshot.FilePath).Msg("cleaned up delivered artifact")
		}
	}()

	ext := filepath.Ext(snapshot.FilePath)
	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf(`attachment; filename="tubedl-%s%s"`, id[:8], ext),
	}
	c.DataFromReader(http.StatusOK, stat.Size(), contentTypeFor(ext), f, headers)
}

// Health reports liveness plus worker occupancy.
func (a *API) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"active_jobs": a.manager.ActiveJobs(),
	})
}

// upstreamStatus maps a classified engine failure to its HTTP disposition.
func upstreamStatus(err error) (int, string) {
	var engErr *engine.Error
	if errors.As(err, &engErr) {
		switch engErr.Kind {
		case engine.KindBotCheck:
			return http.StatusServiceUnavailable, engErr.Message
		case engine.KindAgeRestricted, engine.KindGeoBlocked:
			return http.StatusUnavailableForLegalReasons, engErr.Message
		case engine.KindFormatUnavailable:
			return http.StatusUnprocessableEntity, engErr.Message
		}
	}
	return http.StatusInternalServerError, err.Error()
}

func contentTypeFor(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

// resolutionText renders the resolution field, which clients send either as
// a JSON number or a string.
func resolutionText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int(t)) {
			return fmt.Sprintf("%d", int(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
