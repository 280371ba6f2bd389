package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"lab-dispatch-service/internal/adapters/persistence"
	"lab-dispatch-service/internal/api"
	"lab-dispatch-service/internal/platform/bus"
	"lab-dispatch-service/internal/platform/cache"
	"lab-dispatch-service/internal/platform/db"
	"lab-dispatch-service/internal/ports"
	"lab-dispatch-service/internal/realtime"
	"lab-dispatch-service/internal/services"
	"lab-dispatch-service/internal/store"
)

// main is the application composition root. It wires concrete adapters
// (postgres or the in-memory mock, redis or the memory cache, the realtime
// gateway client) behind ports and starts the HTTP server.
func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found (using environment variables)")
	}

	port := getEnv("PORT", "8080")
	labID := getEnv("LAB_ID", "")
	databaseURL := os.Getenv("DATABASE_URL")
	redisAddr := os.Getenv("REDIS_ADDR")
	realtimeURL := os.Getenv("REALTIME_URL")
	realtimeToken := os.Getenv("REALTIME_TOKEN")

	// Persistence: postgres when configured, in-memory mock otherwise.
	var (
		p     store.Persistence
		cases ports.CaseUpdater
	)
	if databaseURL != "" {
		sqlDB, err := db.Open(databaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("open database")
		}
		defer sqlDB.Close()

		if err := persistence.InitSchema(sqlDB); err != nil {
			log.Fatal().Err(err).Msg("init schema")
		}

		pg := persistence.NewPostgres(sqlDB)
		p = store.Persistence{
			Routes:    pg.Routes(),
			Pickups:   pg.Pickups(),
			Vehicles:  pg.Vehicles(),
			Providers: pg.Providers(),
		}
		cases = pg.Cases()
	} else {
		log.Info().Msg("DATABASE_URL not set, using in-memory backend")
		mem := persistence.NewMemory()
		p = store.Persistence{
			Routes:    mem.Routes(),
			Pickups:   mem.Pickups(),
			Vehicles:  mem.Vehicles(),
			Providers: mem.Providers(),
		}
		cases = persistence.NewMemoryCases()
	}

	// View memoization cache: redis when configured, in-process otherwise.
	var viewCache cache.Cache
	if redisAddr != "" {
		viewCache = cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: redisAddr}), "dispatch")
	} else {
		viewCache = cache.NewMemoryCache()
	}

	b := bus.New()
	st := store.New(p, cases, b, log)
	views := services.NewViewPipeline(viewCache)

	if labID != "" {
		if err := st.Load(context.Background(), labID); err != nil {
			log.Error().Err(err).Str("lab_id", labID).Msg("initial load failed")
		}
	}

	// Realtime gateway client is optional; the portal works without live
	// driver updates.
	if realtimeURL != "" {
		client := realtime.NewClient(realtime.Config{
			URL:    realtimeURL,
			Tokens: ports.StaticToken(realtimeToken),
		}, b, log)
		if labID != "" {
			client.Subscribe(realtime.LabDriversChannel(labID))
			client.Subscribe(realtime.LabPickupsChannel(labID))
		}
		client.Connect(context.Background())
		defer client.Disconnect()
	}

	router := api.NewRouter(st, views, log)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
