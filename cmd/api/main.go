package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"narcomap.org/internal/auth"
	"narcomap.org/internal/config"
	"narcomap.org/internal/engine"
	"narcomap.org/internal/httpapi"
	"narcomap.org/internal/markers"
	"narcomap.org/internal/notify"
	"narcomap.org/internal/obs"
	"narcomap.org/internal/ratelimit"
	"narcomap.org/internal/store/pg"
	"narcomap.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg := config.MustLoad(os.Getenv("NARCOMAP_CONFIG"))

	obs.Init()
	obs.InitBuildInfo(version, commit)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Stores: Postgres when a DSN is configured, in-memory otherwise.
	var (
		db          *sql.DB
		actorStore  auth.ActorStore
		otpStore    auth.OTPStore
		markerStore markers.Store
	)
	if cfg.DB.DSN != "" {
		var err error
		db, err = pg.Open(rootCtx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		authPG := auth.NewPostgresStore(db)
		if err := authPG.EnsureSchema(rootCtx); err != nil {
			log.Fatalf("auth schema: %v", err)
		}
		markerPG := pg.NewMarkerStore(db)
		if err := markerPG.EnsureSchema(rootCtx); err != nil {
			log.Fatalf("marker schema: %v", err)
		}
		actorStore, otpStore, markerStore = authPG, authPG, markerPG
	} else {
		mem := auth.NewInMemoryStore()
		actorStore, otpStore, markerStore = mem, mem, markers.NewInMemoryStore()
		log.Println("no NARCOMAP_PG_DSN set, using in-memory stores")
	}

	sender, err := notify.New(cfg.Notify)
	if err != nil {
		log.Fatalf("notify: %v", err)
	}

	issuer, err := auth.NewTokenIssuer(
		cfg.Auth.JWTSecret, cfg.Auth.Issuer,
		cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL,
	)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	otpLimiter := ratelimit.New()
	otpLimiter.StartSweeping(rootCtx, 5*time.Minute)
	markerLimiter := ratelimit.New()
	markerLimiter.StartSweeping(rootCtx, 5*time.Minute)

	authSvc := auth.NewService(actorStore, otpStore, sender, otpLimiter, issuer, cfg.OTP)
	markerSvc := markers.NewService(markerStore, markerLimiter, cfg.Markers)
	eng := engine.New(authSvc, markerSvc, stream.New())

	api := httpapi.New(eng, httpapi.ReadyProbe{DB: db}, version)

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, cfg.HTTP.RateLimitBurst, cfg.HTTP.RateLimitPerSecond)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.Logging(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No write timeout: /v1/stream/markers holds connections open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting narcomap-api %s (%s) on %s", version, cfg.Env, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
