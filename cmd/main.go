package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"tubedl/internal/api"
	"tubedl/internal/config"
	"tubedl/internal/engine"
	fileutil "tubedl/internal/file"
	"tubedl/internal/task"
	"tubedl/internal/token"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("config.yml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	if err := fileutil.EnsureDir(cfg.DownloadDir); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DownloadDir).Msg("ensure download dir")
	}

	gateway := engine.NewGateway(engine.Options{
		BinPath:     cfg.YtdlpPath,
		CookiesPath: cfg.CookiesFile,
	})
	manager := task.NewManager(gateway, task.Options{
		OutDir:            cfg.DownloadDir,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		JobTimeout:        time.Duration(cfg.JobTimeoutMinutes) * time.Minute,
	})
	tokens := token.NewStore()

	router := setupRouter(cfg)
	apiHandler := api.NewAPI(manager, gateway, tokens, cfg.DownloadDir)
	apiHandler.RegisterRoutes(router)

	baseCtx, baseCancel := context.WithCancel(context.Background())
	manager.SetBaseContext(baseCtx)

	const (
		readHeaderTimeout = 5 * time.Second
		shutdownTimeout   = 10 * time.Second
	)

	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, manager, shutdownTimeout)
}

func setupRouter(cfg config.Config) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	r.Use(api.RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)))
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, manager *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	cancelBase()
	if !manager.WaitAll(ctx) {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}
