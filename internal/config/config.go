package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 8080
	defaultDownloadDir       = "downloads"
	defaultYtdlpPath         = "yt-dlp"
	defaultMaxConcurrent     = 4
	defaultJobTimeoutMinutes = 30
	defaultRateLimitRPS      = 10
	defaultRateLimitBurst    = 20
)

// Config describes runtime configuration for the service.
type Config struct {
	Port              int     `yaml:"port"`
	DownloadDir       string  `yaml:"download_dir"`
	CookiesFile       string  `yaml:"cookies_file"`
	YtdlpPath         string  `yaml:"ytdlp_path"`
	MaxConcurrentJobs int     `yaml:"max_concurrent_jobs"`
	JobTimeoutMinutes int     `yaml:"job_timeout_minutes"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
	RateLimitBurst    int     `yaml:"rate_limit_burst"`
}

// Default returns sane defaults for a single-node deployment.
func Default() Config {
	return Config{
		Port:              defaultPort,
		DownloadDir:       defaultDownloadDir,
		CookiesFile:       "cookies.txt",
		YtdlpPath:         defaultYtdlpPath,
		MaxConcurrentJobs: defaultMaxConcurrent,
		JobTimeoutMinutes: defaultJobTimeoutMinutes,
		RateLimitRPS:      defaultRateLimitRPS,
		RateLimitBurst:    defaultRateLimitBurst,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = defaultDownloadDir
	}
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = defaultYtdlpPath
	}
	if cfg.MaxConcurrentJobs < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_jobs: %d (must be >= 1)", cfg.MaxConcurrentJobs)
	}
	if cfg.JobTimeoutMinutes < 0 {
		return cfg, fmt.Errorf("invalid job_timeout_minutes: %d", cfg.JobTimeoutMinutes)
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = defaultRateLimitRPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	return cfg, nil
}
