package validate

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const maxResolution = 2160

var allowedHosts = map[string]struct{}{
	"youtube.com":       {},
	"www.youtube.com":   {},
	"youtu.be":          {},
	"www.youtu.be":      {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
}

var validResolutions = map[int]struct{}{
	144: {}, 240: {}, 360: {}, 480: {}, 720: {}, 1080: {}, 1440: {}, 2160: {},
}

// videoRefPattern accepts the three recognized video reference shapes:
// standard watch links, short links and shorts links.
var videoRefPattern = regexp.MustCompile(`(youtube\.com/watch\?.*v=[\w-]+|youtu\.be/[\w-]+|youtube\.com/shorts/[\w-]+)`)

var (
	ErrNoURL        = errors.New("no URL provided")
	ErrMalformedURL = errors.New("malformed URL")
	ErrBadScheme    = errors.New("URL must use http or https")
	ErrNotVideoLink = errors.New("URL does not appear to be a valid YouTube video link")
)

// SourceURL checks that raw is an allow-listed YouTube video link.
// No network access occurs.
func SourceURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ErrNoURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ErrMalformedURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrBadScheme
	}
	if _, ok := allowedHosts[parsed.Host]; !ok {
		return fmt.Errorf("only YouTube URLs are allowed, got: %s", parsed.Host)
	}
	if !videoRefPattern.MatchString(raw) {
		return ErrNotVideoLink
	}
	return nil
}

// Quality coerces raw to an integer and checks it against the fixed
// resolution ladder. Returns the normalized value on success.
func Quality(raw string) (int, error) {
	res, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.New("resolution must be a number")
	}
	if res > maxResolution {
		return 0, fmt.Errorf("max resolution allowed is %dp", maxResolution)
	}
	if _, ok := validResolutions[res]; !ok {
		return 0, fmt.Errorf("invalid resolution: %dp", res)
	}
	return res, nil
}

// MaxQuality is the top tier gated by an unlock token.
const MaxQuality = maxResolution
