package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stackdeck/stackdeck/internal/config"
	"github.com/stackdeck/stackdeck/internal/database"
	"github.com/stackdeck/stackdeck/internal/handler"
	"github.com/stackdeck/stackdeck/internal/poller"
	"github.com/stackdeck/stackdeck/internal/portainer"
	"github.com/stackdeck/stackdeck/internal/realtime"
	"github.com/stackdeck/stackdeck/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Server.LogLevel)

	// Initialize database
	db := database.Init(cfg.Server.DBPath)

	// Portainer API client, realtime hub and stack service
	client := portainer.NewClient(&cfg.Portainer, logger)
	hub := realtime.NewHub(logger)
	stackSvc := service.NewStackService(db, client, hub, logger)

	// Background poller: periodic indicator refresh + auto-update sweep
	bg := poller.New(stackSvc, cfg.Poller.RefreshInterval(), logger)

	// Setup Gin
	r := gin.Default()

	// CORS — allow frontend dev server and same-origin requests
	r.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}))

	// ============ API Routes ============
	api := r.Group("/api")

	stackH := handler.NewStackHandler(stackSvc)
	api.GET("/stacks", stackH.List)
	api.POST("/stacks", stackH.Create)
	api.GET("/stacks/import", stackH.Import)
	api.POST("/stacks/refresh-all", stackH.RefreshAll)
	api.GET("/stacks/:id", stackH.Get)
	api.PUT("/stacks/:id", stackH.Update)
	api.DELETE("/stacks/:id", stackH.Delete)
	api.POST("/stacks/:id/auto-update", stackH.SetAutoUpdate)
	api.GET("/stacks/:id/indicator", stackH.Indicator)
	api.POST("/stacks/:id/update", stackH.TriggerUpdate)

	// Live updates
	wsH := handler.NewWSHandler(hub, stackSvc)
	r.GET("/ws", wsH.Serve)

	// ============ Frontend Static Files ============
	setupFrontend(r)

	bg.Start()

	// Stop the poller cleanly on SIGINT/SIGTERM before the process exits.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down...")
		bg.Stop()
		hub.Close()
		os.Exit(0)
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("🚀 StackDeck starting on http://localhost%s", addr)
	log.Printf("📁 Data directory: %s", cfg.Server.DataDir)
	log.Printf("🔗 Portainer API: %s", cfg.Portainer.URL)

	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// setupFrontend serves the dashboard SPA from web/dist if it exists
func setupFrontend(r *gin.Engine) {
	distPath := "web/dist"

	if _, err := os.Stat(distPath); os.IsNotExist(err) {
		log.Println("⚠️  Frontend dist not found. Run 'cd web && npm run build' to build the frontend.")
		return
	}

	// Serve static assets
	r.Static("/assets", filepath.Join(distPath, "assets"))
	r.StaticFile("/favicon.ico", filepath.Join(distPath, "favicon.ico"))

	// SPA fallback: serve index.html for all non-API, non-asset routes
	r.NoRoute(func(c *gin.Context) {
		path := c.Request.URL.Path

		// Don't interfere with API routes
		if strings.HasPrefix(path, "/api") || path == "/ws" {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}

		filePath := filepath.Join(distPath, path)
		if _, err := os.Stat(filePath); err == nil {
			c.File(filePath)
			return
		}

		c.File(filepath.Join(distPath, "index.html"))
	})

	log.Println("✅ Serving frontend from web/dist")
}
