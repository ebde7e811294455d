package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chaos-io/bgremover/background"
	"github.com/chaos-io/bgremover/compose"
	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/handler"
	"github.com/chaos-io/bgremover/ingest"
	"github.com/chaos-io/bgremover/middleware"
	"github.com/chaos-io/bgremover/rembg"
	"github.com/chaos-io/bgremover/resolve"
	"github.com/chaos-io/bgremover/session"
	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg := config.New()

	if err := util.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Logger.Info("starting bgremover server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	cli := nhttp.NewHTTPClient()

	var remover rembg.Remover = rembg.NewClient(cfg.Rembg.Endpoint, cfg.Rembg.FieldName, cfg.Rembg.Timeout, cli)
	if cfg.Redis.Enabled {
		cache := rembg.NewRedisCache(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.TTL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx); err != nil {
			util.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
			_ = cache.Close()
		} else {
			util.Logger.Info("redis connected successfully", zap.String("addr", cfg.Redis.Addr))
			remover = rembg.NewCachedRemover(remover, cache)
			defer cache.Close()
		}
		cancel()
	}

	scaler, err := compose.ScalerByName(cfg.Render.Scaler)
	if err != nil {
		util.Logger.Fatal("invalid render scaler", zap.Error(err))
	}

	library, err := background.NewLibrary(cfg.Backgrounds.Samples)
	if err != nil {
		util.Logger.Fatal("invalid sample backgrounds", zap.Error(err))
	}

	manager := session.NewManager(session.Deps{
		Remover:  remover,
		Resolver: resolve.NewResolver(resolve.NewSourceLoader(cli).WithLimits(resolve.Limits{
			MaxSize:      cfg.Upload.MaxSize,
			MaxDimension: cfg.Upload.MaxDimension,
		})),
		Library:  library,
		Options: session.Options{
			DebounceWindow: cfg.Render.DebounceWindow,
			RemoveTimeout:  cfg.Rembg.Timeout,
			Scaler:         scaler,
			Affordance:     cfg.Render.Affordance,
		},
	}, cfg.Session.IdleTTL)
	if err := manager.StartSweeper(cfg.Session.SweepSpec); err != nil {
		util.Logger.Fatal("failed to start session sweeper", zap.Error(err))
	}
	defer manager.Close()

	sessionHandler := handler.NewSessionHandler(manager, library, ingest.Options{
		MaxSize:      cfg.Upload.MaxSize,
		MaxDimension: cfg.Upload.MaxDimension,
		AllowedTypes: cfg.Upload.AllowedTypes,
	})

	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"version":  Version,
			"sessions": manager.Len(),
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})

	sessionHandler.Register(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		util.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	util.Logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		util.Logger.Error("server shutdown failed", zap.Error(err))
	}
}
