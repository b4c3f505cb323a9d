package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mikeboe/kresearch/pkg/chat"
	"github.com/mikeboe/kresearch/pkg/config"
	"github.com/mikeboe/kresearch/pkg/database"
	"github.com/mikeboe/kresearch/pkg/history"
	"github.com/mikeboe/kresearch/pkg/server"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if len(cfg.APIKeys()) == 0 {
		slog.Warn("No API keys configured; every run will fail until keys are set", "provider", cfg.Provider)
	}

	provider, err := cfg.NewProvider()
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}
	search, err := cfg.NewSearch()
	if err != nil {
		log.Fatalf("Failed to create search provider: %v", err)
	}

	var (
		store   history.Store
		chatSvc *chat.Service
	)
	switch cfg.SessionStore {
	case config.StorePostgres:
		db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.InitSchema(ctx); err != nil {
			log.Fatalf("Failed to initialize schema: %v", err)
		}
		store = history.NewPostgresStore(db)

		chatSvc, err = chat.NewService(ctx, db, store, cfg)
		if err != nil {
			slog.Warn("Knowledge Q&A disabled", "error", err)
		}
	case config.StoreRedis:
		rs, err := history.NewRedisStoreFromURL(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rs.Close()
		store = rs
	default:
		store = history.NewMemoryStore()
	}

	svc := server.NewService(store, provider, cfg.APIKeys(), search, cfg.RunConfig())
	handler := server.NewHandler(svc, chatSvc)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
		ExposeHeaders: []string{"Content-Length", "Mcp-Session-Id"},
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		slog.Info("Server starting", "port", cfg.Port, "provider", cfg.Provider, "store", cfg.SessionStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down, pausing active runs")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		slog.Error("Runs did not pause in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}
}
