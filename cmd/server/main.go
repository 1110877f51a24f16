package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/zidewell/zidwell-team-sub000/cmd/routes"
	"github.com/zidewell/zidwell-team-sub000/internal/backend"
	"github.com/zidewell/zidwell-team-sub000/internal/lookup"
	"github.com/zidewell/zidwell-team-sub000/internal/middleware"
	"github.com/zidewell/zidwell-team-sub000/internal/session"
	"github.com/zidewell/zidwell-team-sub000/pkg/config"
	"github.com/zidewell/zidwell-team-sub000/pkg/events"
	"github.com/zidewell/zidwell-team-sub000/pkg/logger"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.LoadConfig()
	logger.Init(cfg.Env)
	defer logger.Sync()

	redisClient := events.NewRedisClient(cfg)
	backendClient := backend.NewClient(cfg)
	lookupClient := lookup.NewClient(cfg)

	scheduler := session.NewCron()
	scheduler.Start()

	manager := session.NewManager(cfg, backendClient, lookupClient, scheduler)
	if err := manager.StartSweeper(); err != nil {
		logger.Fatal("Could not schedule session sweep", logger.WithError(err))
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// start background worker
	worker := session.NewEventWorker(manager, redisClient, cfg.FetchTimeout)
	worker.Start(ctx)

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	defer limiter.Stop()

	r := mux.NewRouter()
	handler := routes.RegisterRoutes(r, cfg, manager, limiter, map[string]routes.Pinger{
		"backend": backendClient,
		"redis":   redisClient,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"host": cfg.Host, "port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, "error": err.Error()})
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)

	stop()
	manager.Shutdown()
	<-scheduler.Stop().Done()
	if err := redisClient.Close(); err != nil {
		logger.Warn("Redis close failed", logger.WithError(err))
	}
	logger.Info("Server gracefully shut down")
}
