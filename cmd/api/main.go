package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evaid.org/internal/config"
	"evaid.org/internal/httpapi"
	"evaid.org/internal/hydra"
	"evaid.org/internal/identity"
	"evaid.org/internal/obs"
	"evaid.org/internal/store/pg"
	"evaid.org/internal/token"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("EVAID_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("EVAID_PG_DSN is required")
	}

	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	hasher, err := identity.NewHasher(identity.HashParams{
		TimeCost:    cfg.Argon2.TimeCost,
		MemoryCost:  cfg.Argon2.MemoryCost,
		Parallelism: cfg.Argon2.Parallelism,
		KeyLength:   cfg.Argon2.HashLen,
		SaltLength:  cfg.Argon2.SaltLen,
	})
	if err != nil {
		log.Fatalf("init hasher: %v", err)
	}

	svc, err := identity.NewService(store, hasher,
		identity.WithPasswordPolicy(cfg.Password.Permanent, cfg.Password.Age))
	if err != nil {
		log.Fatalf("init identity service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := svc.EnsureBuiltins(ctx); err != nil {
		cancel()
		log.Fatalf("ensure builtin permissions: %v", err)
	}
	cancel()

	resolver := identity.NewResolver(store)

	keyPEM, err := cfg.JWT.PrivateKeyPEM()
	if err != nil {
		log.Fatalf("resolve signing key: %v", err)
	}
	issuer, err := token.NewIssuer(keyPEM,
		token.WithIssuer(cfg.JWT.Issuer),
		token.WithAudience(cfg.JWT.Audience),
		token.WithAccessTTL(cfg.JWT.AccessTTL),
		token.WithRefreshTTL(cfg.JWT.RefreshTTL),
		token.WithAppKeyAccessTTL(cfg.JWT.AppKeyAccessTTL),
	)
	if err != nil {
		log.Fatalf("init token issuer: %v", err)
	}
	refresher := token.NewRefresher(issuer, store, resolver)

	admin, err := hydra.NewClient(cfg.Hydra.AdminURL, cfg.Hydra.Timeout)
	if err != nil {
		log.Fatalf("init hydra admin client: %v", err)
	}
	bridge, err := hydra.NewBridge(admin, svc, resolver, store, int64(cfg.Hydra.RememberFor.Seconds()))
	if err != nil {
		log.Fatalf("init challenge bridge: %v", err)
	}

	api := httpapi.New(httpapi.Deps{
		Identity:  svc,
		Store:     store,
		Resolver:  resolver,
		Issuer:    issuer,
		Refresher: refresher,
		Bridge:    bridge,
		Ready:     httpapi.ReadyProbe{Pinger: store},
		Version:   version,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting evaid-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
