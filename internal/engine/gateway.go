package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

// VideoInfo is the caller-facing metadata for a source URL.
type VideoInfo struct {
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	Duration    string `json:"duration"`
	Resolutions []int  `json:"resolutions"`
}

// Progress is one downloading-phase event forwarded to the worker.
type Progress struct {
	Percent int
	Speed   string
	ETA     string
}

const (
	downloadAttempts = 5
	retryDelay       = 2 * time.Second
	socketTimeout    = "15"

	jitterMin = 800 * time.Millisecond
	jitterMax = 2400 * time.Millisecond
)

// Pool of client-identity headers rotated per engine call to reduce
// fingerprinting-based blocking.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// runFunc executes the external engine binary. When onLine is non-nil it is
// invoked for every stdout line as it arrives; the full stdout is returned
// either way.
type runFunc func(ctx context.Context, bin string, args []string, onLine func(string)) (string, error)

// Gateway wraps calls into the external yt-dlp extraction engine.
type Gateway struct {
	bin         string
	cookiesPath string
	cache       *infoCache
	run         runFunc
	sleep       func(time.Duration)
	pickUA      func() string
	retryDelay  time.Duration
}

// Options configures a Gateway.
type Options struct {
	BinPath     string
	CookiesPath string
}

func NewGateway(opts Options) *Gateway {
	if opts.BinPath == "" {
		opts.BinPath = "yt-dlp"
	}
	return &Gateway{
		bin:         opts.BinPath,
		cookiesPath: opts.CookiesPath,
		cache:       newInfoCache(),
		run:         runCommand,
		sleep:       time.Sleep,
		pickUA:      func() string { return userAgents[rand.Intn(len(userAgents))] },
		retryDelay:  retryDelay,
	}
}

// FetchInfo returns metadata for the URL, consulting the five minute cache
// first. No file is produced.
func (g *Gateway) FetchInfo(ctx context.Context, url string) (VideoInfo, error) {
	url = strings.TrimSpace(url)
	if info, ok := g.cache.get(url); ok {
		log.Info().Str("url", url).Msg("metadata cache hit")
		return info, nil
	}

	g.throttle()
	args := g.baseArgs()
	args = append(args, "-J", "--skip-download", url)

	stdout, err := g.run(ctx, g.bin, args, nil)
	if err != nil {
		log.Error().Str("url", url).Err(err).Msg("metadata extraction failed")
		return VideoInfo{}, Classify(err)
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return VideoInfo{}, fmt.Errorf("decode video info: %w", err)
	}

	info := VideoInfo{
		Title:       raw.Title,
		Thumbnail:   raw.Thumbnail,
		Duration:    FormatDuration(raw.Duration),
		Resolutions: distinctHeights(raw.Formats),
	}
	if info.Title == "" {
		info.Title = "Unknown Title"
	}
	g.cache.put(url, info)
	return info, nil
}

// Download runs the engine against the URL requesting the best streams not
// exceeding maxHeight, writing to outStem plus the container extension.
// Downloading-phase events are forwarded to onProgress; the engine's own
// finished-but-not-merged event is reported as 99, reserving 100 for
// confirmed on-disk completion. Transient fragment/network failures are
// retried up to five attempts.
func (g *Gateway) Download(ctx context.Context, url string, maxHeight int, outStem string, onProgress func(Progress)) error {
	onLine := func(line string) {
		if p, ok := ParseProgressLine(line); ok && onProgress != nil {
			onProgress(p)
		}
	}

	err := retry.Do(
		func() error {
			g.throttle()
			// Args are rebuilt per attempt so each engine invocation
			// carries a freshly rotated client identity.
			args := g.baseArgs()
			args = append(args,
				"-f", fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", maxHeight, maxHeight),
				"--merge-output-format", "mp4",
				"-o", outStem+".%(ext)s",
				"--newline",
				"--progress-template", "download:%(progress.status)s|%(progress._percent_str)s|%(progress._speed_str)s|%(progress._eta_str)s",
				url,
			)
			_, runErr := g.run(ctx, g.bin, args, onLine)
			return runErr
		},
		retry.Attempts(downloadAttempts),
		retry.Delay(g.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.Context(ctx),
	)
	if err != nil {
		log.Error().Str("url", url).Int("max_height", maxHeight).Err(err).Msg("extraction failed")
		return Classify(err)
	}
	return nil
}

// UseRunner swaps the engine executor. Intended for test setup only.
func (g *Gateway) UseRunner(run runFunc) { g.run = run }

// UseSleep swaps the jitter sleep. Intended for test setup only.
func (g *Gateway) UseSleep(sleep func(time.Duration)) { g.sleep = sleep }

// SetCacheClock overrides the metadata cache time source for tests.
func (g *Gateway) SetCacheClock(now func() time.Time) {
	g.cache.mu.Lock()
	g.cache.now = now
	g.cache.mu.Unlock()
}

func (g *Gateway) baseArgs() []string {
	args := []string{
		"--no-warnings",
		"--socket-timeout", socketTimeout,
		"--user-agent", g.pickUA(),
	}
	if g.cookiesPath != "" {
		if _, err := os.Stat(g.cookiesPath); err == nil {
			args = append(args, "--cookies", g.cookiesPath)
		}
	}
	return args
}

// throttle sleeps a pseudo-random interval before each engine call to avoid
// triggering upstream rate limiting.
func (g *Gateway) throttle() {
	span := int64(jitterMax - jitterMin)
	g.sleep(jitterMin + time.Duration(rand.Int63n(span)))
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return containsAny(msg,
		"fragment",
		"timed out",
		"timeout",
		"connection reset",
		"temporary failure",
		"unexpected eof",
	)
}

type rawInfo struct {
	Title     string      `json:"title"`
	Thumbnail string      `json:"thumbnail"`
	Duration  float64     `json:"duration"`
	Formats   []rawFormat `json:"formats"`
}

type rawFormat struct {
	Height int `json:"height"`
}

func distinctHeights(formats []rawFormat) []int {
	seen := make(map[int]struct{}, len(formats))
	heights := make([]int, 0, len(formats))
	for _, f := range formats {
		if f.Height <= 0 {
			continue
		}
		if _, ok := seen[f.Height]; ok {
			continue
		}
		seen[f.Height] = struct{}{}
		heights = append(heights, f.Height)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))
	return heights
}

// FormatDuration renders seconds as H:MM:SS, dropping the hour field when
// under one hour, or "Unknown" when the duration is absent.
func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return "Unknown"
	}
	total := int(seconds)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// ParseProgressLine decodes one progress-template line of the form
// "status|percent|speed|eta". The engine's finished event maps to 99.
func ParseProgressLine(line string) (Progress, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 4)
	if len(parts) != 4 {
		return Progress{}, false
	}
	status := strings.TrimSpace(parts[0])
	switch status {
	case "finished":
		return Progress{Percent: 99}, true
	case "downloading":
	default:
		return Progress{}, false
	}

	pctText := strings.TrimSuffix(strings.TrimSpace(parts[1]), "%")
	pct, err := strconv.ParseFloat(pctText, 64)
	if err != nil {
		return Progress{}, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return Progress{
		Percent: int(pct),
		Speed:   strings.TrimSpace(parts[2]),
		ETA:     strings.TrimSpace(parts[3]),
	}, true
}

// runCommand executes the engine binary, scanning stdout line by line. On a
// non-zero exit the tail of stderr is folded into the returned error so the
// classifier can see the engine's own message.
func runCommand(ctx context.Context, bin string, args []string, onLine func(string)) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", bin, err)
	}

	var stdout strings.Builder
	scanner := bufio.NewScanner(stdoutPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stdout.WriteString(line)
		stdout.WriteByte('\n')
		if onLine != nil {
			onLine(line)
		}
	}
	scanErr := scanner.Err()
	// Drain whatever the scan loop left behind so the child never blocks
	// writing into a full pipe before Wait.
	_, _ = io.Copy(io.Discard, stdoutPipe)

	if err := cmd.Wait(); err != nil {
		return stdout.String(), fmt.Errorf("%s: %v | %s", bin, err, strings.TrimSpace(stderr.String()))
	}
	if scanErr != nil {
		return stdout.String(), fmt.Errorf("read %s output: %w", bin, scanErr)
	}
	return stdout.String(), nil
}
