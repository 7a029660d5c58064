// Web Push service: keeps browser subscriptions and delivers notifications signed with VAPID.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/push"
	"github.com/roomchat/internal/startup"
)

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	logger.SetPrefix("push")
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}
	if len(os.Args) > 1 && (os.Args[1] == "-gen-vapid" || os.Args[1] == "--gen-vapid") {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		return
	}
	logger.Info("starting push service")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	keys := &push.VAPIDKeys{PublicKey: os.Getenv("VAPID_PUBLIC_KEY"), PrivateKey: os.Getenv("VAPID_PRIVATE_KEY")}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		loaded, err := push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("VAPID keys unavailable, delivery disabled: %v", err)
		} else {
			keys = loaded
		}
	}

	var store push.SubscriptionStore
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		rc, err := startup.ConnectRedis(ctx, redisURL, 30*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer rc.Close()
		store = push.NewRedisStore(rc.Raw())
		logger.Info("redis connected")
	} else {
		store = push.NewMemoryStore()
		logger.Info("REDIS_URL not set, subscriptions kept in memory")
	}

	s := push.NewServer(store, keys, getEnv("VAPID_SUBSCRIBER", "roomchat-push"))
	r := chi.NewRouter()
	// no RealIP: InternalOnly judges the TCP peer
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	secret := os.Getenv("INTERNAL_SECRET")
	if secret == "" {
		logger.Info("INTERNAL_SECRET not set, internal routes open to loopback and private peers")
	}
	s.Routes(r, middleware.InternalOnly(secret))

	addr := getEnv("SERVER_ADDR", ":8082")
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Infof("push server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("push server: %v", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Info("push server stopped")
}
