package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drawsync/handlers/assets"
	"drawsync/handlers/unfurl"
	"drawsync/rooms"
	"drawsync/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultIdleTimeout = 5 * time.Minute

func handleInfo() http.HandlerFunc {
	info := map[string]interface{}{
		"name":    "drawsync",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"connect":  "/connect/{roomId} - WebSocket connection for room sync",
			"upload":   "POST /uploads/{uploadId} - Upload assets",
			"download": "GET /uploads/{uploadId} - Download assets",
			"unfurl":   "/unfurl?url=<url> - Get bookmark metadata",
		},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, info)
	}
}

func setupRouter(store stores.Store, registry *rooms.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	// Any origin is allowed in this deployment profile; restrict this when
	// serving a single known frontend.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "Accept-Encoding", "Accept-Language", "X-Requested-With"},
		MaxAge:         300,
	}))

	r.Get("/", handleInfo())
	r.Get("/connect/{roomId}", rooms.HandleConnect(registry))

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/{uploadId}", assets.HandleUpload(store, assets.DefaultMaxUploadBytes))
		r.Get("/{uploadId}", assets.HandleDownload(store))
	})

	r.Get("/unfurl", unfurl.Handler(nil))

	return r
}

func idleTimeoutFromEnv() time.Duration {
	raw := os.Getenv("ROOM_IDLE_TIMEOUT")
	if raw == "" {
		return defaultIdleTimeout
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logrus.WithField("value", raw).Warn("Invalid ROOM_IDLE_TIMEOUT, using default")
		return defaultIdleTimeout
	}
	return d
}

func waitForShutdown(srv *http.Server, registry *rooms.Registry) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown")
	}

	// Final snapshots for every live room before the process exits.
	registry.Close()
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	registry := rooms.NewRegistry(store, idleTimeoutFromEnv())

	r := setupRouter(store, registry)
	srv := &http.Server{Addr: *listenAddress, Handler: r}

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(srv, registry)
}
