package validate

import (
	"strconv"
	"strings"
	"testing"
)

func TestSourceURLAccepted(t *testing.T) {
	for _, url := range []string{
		"https://www.youtube.com/watch?v=abc123XYZ_-",
		"https://youtube.com/watch?v=dQw4w9WgXcQ",
		"http://youtu.be/dQw4w9WgXcQ",
		"https://m.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/abc123XYZ_-",
		"  https://www.youtube.com/watch?v=abc123XYZ_-  ",
	} {
		if err := SourceURL(url); err != nil {
			t.Errorf("expected %q to be valid, got: %v", url, err)
		}
	}
}

func TestSourceURLRejected(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"", "no URL provided"},
		{"ftp://www.youtube.com/watch?v=abc", "http or https"},
		{"https://vimeo.com/12345", "vimeo.com"},
		{"https://evil.example.com/watch?v=abc123", "evil.example.com"},
		{"https://www.youtube.com/playlist?list=PL123", "valid YouTube video link"},
		{"https://www.youtube.com/", "valid YouTube video link"},
	}
	for _, tc := range cases {
		err := SourceURL(tc.url)
		if err == nil {
			t.Errorf("expected %q to be rejected", tc.url)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("url %q: expected message containing %q, got %q", tc.url, tc.want, err.Error())
		}
	}
}

func TestSourceURLNamesOffendingHost(t *testing.T) {
	err := SourceURL("https://example.org/watch?v=abc123")
	if err == nil || !strings.Contains(err.Error(), "example.org") {
		t.Fatalf("expected message naming the host, got: %v", err)
	}
}

func TestQualityLadder(t *testing.T) {
	for _, res := range []int{144, 240, 360, 480, 720, 1080, 1440, 2160} {
		got, err := Quality(strconv.Itoa(res))
		if err != nil {
			t.Errorf("expected %dp to be valid, got: %v", res, err)
		}
		if got != res {
			t.Errorf("expected normalized %d, got %d", res, got)
		}
	}
}

func TestQualityRejected(t *testing.T) {
	for _, raw := range []string{"", "abc", "100", "719", "4320", "1081", "-720", "720.5"} {
		if _, err := Quality(raw); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}
}

func TestQualityAboveCeiling(t *testing.T) {
	_, err := Quality("4320")
	if err == nil || !strings.Contains(err.Error(), "2160") {
		t.Fatalf("expected ceiling error, got: %v", err)
	}
}
