package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"minerva.org/internal/audit"
	"minerva.org/internal/auth"
	"minerva.org/internal/httpapi"
	"minerva.org/internal/obs"
	"minerva.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("MINERVA_PG_DSN")
	if dsn == "" {
		log.Fatal("MINERVA_PG_DSN is required")
	}
	secret := os.Getenv("MINERVA_AUTH_SECRET")
	if secret == "" {
		log.Fatal("MINERVA_AUTH_SECRET is required")
	}
	addr := os.Getenv("MINERVA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	recorder := audit.NewRecorder(store.Audit(), audit.WithAsync(256))
	defer func() { _ = recorder.Close() }()

	evaluator := auth.NewEvaluator()
	guard, err := auth.NewSessionGuard(store.Users(), evaluator, []byte(secret),
		auth.WithIssuer("minerva-api"))
	if err != nil {
		log.Fatalf("session guard: %v", err)
	}

	svc, err := auth.NewService(store.Users(), store.Roles(), store.Permissions(),
		guard, evaluator, auth.WithAuditRecorder(recorder))
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store.DB()}, version)

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.Logging(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.RateLimit(handler, 50, 25)

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting minerva-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
