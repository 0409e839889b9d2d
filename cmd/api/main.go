package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"consulta.cl/internal/auth"
	"consulta.cl/internal/config"
	"consulta.cl/internal/customers"
	"consulta.cl/internal/httpapi"
	"consulta.cl/internal/obs"
	"consulta.cl/internal/seed"
	"consulta.cl/internal/store"
)

var (
	version = "0.1.0"
	commit  = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	st, err := store.Open(openCtx, cfg.DatabaseURL, cfg.MongoDatabase)
	cancel()
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	if err := seedMemory(ctx, store.Kind(cfg.DatabaseURL), st, adminFromEnv()); err != nil {
		log.Fatalf("seed: %v", err)
	}

	tokens, err := auth.NewTokens(cfg.JWTSecret, auth.WithTTL(cfg.TokenTTL))
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	probe := httpapi.ReadyProbe{Store: st}
	api := httpapi.New(httpapi.Options{
		Ready:           probe,
		Auth:            auth.NewService(st.Users(), st.Roles(), tokens),
		Customers:       customers.NewService(st.Customers(), st.Lookups()),
		CORSOrigins:     cfg.CORSOrigins,
		LoginRatePerSec: cfg.LoginRatePerSec,
		LoginRateBurst:  cfg.LoginRateBurst,
		TrustProxy:      cfg.TrustProxy,
		Version:         version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Info("starting consulta-api", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"store":   store.Kind(cfg.DatabaseURL),
	})

	errCh := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe)
		health.Register(grpcSrv)
		go health.Run(ctx, 5*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
		obs.Info("grpc health listening", map[string]any{"addr": lis.Addr().String()})
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		obs.Error("server failed", err, nil)
	}
	obs.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			// health Watch streams never end on their own
			grpcSrv.Stop()
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Error("http shutdown", err, nil)
	}
	if err := st.Close(shutdownCtx); err != nil {
		obs.Error("close store", err, nil)
	}
	obs.Info("stopped", nil)
}

// seedMemory creates the Admin role and administrator when the in-process
// store is selected, since nothing else can populate it before startup.
func seedMemory(ctx context.Context, kind string, st store.Store, admin seed.Admin) error {
	if kind != "memory" {
		return nil
	}
	res, err := seed.EnsureAdmin(ctx, st.Roles(), st.Users(), admin)
	if err != nil {
		return err
	}
	obs.Info("memory store seeded", map[string]any{
		"admin_id":     res.User.ID,
		"role_created": res.RoleCreated,
		"user_created": res.UserCreated,
	})
	return nil
}

func adminFromEnv() seed.Admin {
	admin := seed.DefaultAdmin
	if v := strings.TrimSpace(os.Getenv("ADMIN_USERNAME")); v != "" {
		admin.Username = v
	}
	if v := strings.TrimSpace(os.Getenv("ADMIN_EMAIL")); v != "" {
		admin.Email = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		admin.Password = v
	}
	return admin
}
