package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"lyricsplus-api-go/catalog"
	"lyricsplus-api-go/config"
	"lyricsplus-api-go/kv"
	"lyricsplus-api-go/logcolors"
	"lyricsplus-api-go/middleware"
	"lyricsplus-api-go/pow"
	"lyricsplus-api-go/services/providers"
	"lyricsplus-api-go/services/providers/apple"
	"lyricsplus-api-go/services/providers/lyricsplus"
	"lyricsplus-api-go/services/resolver"
	"lyricsplus-api-go/stats"
	"lyricsplus-api-go/storage"
)

var conf = config.Get()

// Shared server state, wired up in main and read by the handlers.
var (
	kvStore        kv.Store
	docStore       storage.Store
	songCatalog    *catalog.Catalog
	lyricsResolver *resolver.Resolver
	powIssuer      *pow.Issuer
	lpClient       *lyricsplus.Client
	appleClient    *apple.Client
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel) // Set to InfoLevel (change to DebugLevel for detailed logs)

	err := godotenv.Load()
	if err != nil {
		log.Warn("Error loading .env file, using environment variables")
	}
}

func main() {
	var err error
	kvStore, err = openKVStore()
	if err != nil {
		log.Fatalf("Failed to open key-value store: %v", err)
	}
	defer kvStore.Close()

	docStore, err = storage.NewBoltStore(conf.Store.DocumentsDBPath)
	if err != nil {
		log.Fatalf("Failed to open document store: %v", err)
	}
	defer docStore.Close()

	songCatalog = catalog.New(kvStore)

	statsStore, err := stats.NewStore(conf.Store.StatsDBPath)
	if err != nil {
		log.Warnf("%s Stats persistence disabled: %v", logcolors.LogStats, err)
	} else {
		if err := statsStore.Load(); err != nil {
			log.Warnf("%s Failed to load persisted stats: %v", logcolors.LogStats, err)
		}
		statsStore.StartAutoSave(5 * time.Minute)
		defer statsStore.Close()
	}

	registry := providers.GetRegistry()
	appleClient = registerProviders(registry, kvStore, docStore)
	lyricsResolver = resolver.New(registry, docStore, songCatalog)
	defer lyricsResolver.Wait()

	powIssuer = newPowIssuer()

	router := mux.NewRouter()
	setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(conf.Server.CORSAllowedOrigins, ","),
		AllowCredentials: true,
	})

	limiter := middleware.NewIPRateLimiter(
		rate.Limit(conf.Configuration.RateLimitPerSecond), conf.Configuration.RateLimitBurstLimit,
		rate.Limit(conf.Configuration.CachedRateLimitPerSecond), conf.Configuration.CachedRateLimitBurstLimit)

	apiKeyMiddleware := middleware.APIKeyMiddleware(
		conf.Configuration.APIKey,
		conf.Configuration.APIKeyRequired,
		[]string{"/health", "/"})

	// logging middleware
	loggedRouter := middleware.LoggingMiddleware(statsMiddleware(apiKeyMiddleware(router)))
	// chain cors middleware
	corsHandler := c.Handler(loggedRouter)
	// chain rate limiter
	handler := limitMiddleware(corsHandler, limiter)

	srv := &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Infof("Server listening on port %s", conf.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown error: %v", err)
	}
}
