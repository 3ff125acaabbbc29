package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mparany/garageops/internal/api"
	"github.com/mparany/garageops/internal/config"
	"github.com/mparany/garageops/internal/db"
	"github.com/mparany/garageops/internal/notify"
	"github.com/mparany/garageops/internal/service"
	"github.com/mparany/garageops/internal/store"
	"github.com/mparany/garageops/internal/watch"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}

	if err := db.Migrate(cfg.DBSource); err != nil {
		logrus.Fatalf("migrations failed: %v", err)
	}

	pgStore, err := store.NewPGStore(cfg.DBSource)
	if err != nil {
		logrus.Fatalf("unable to connect to database: %v", err)
	}
	defer pgStore.Close()

	// Redis is optional: without it the catalog cache is skipped and
	// notifications go to the log instead of pub/sub.
	var rdb *redis.Client
	var dispatcher notify.Dispatcher = notify.LogDispatcher{}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			logrus.Fatalf("unable to connect to Redis: %v", err)
		}
		dispatcher = notify.NewRedisDispatcher(rdb)
	}

	watcher := watch.New(pgStore, dispatcher, cfg.WatchInterval)
	defer watcher.Close()

	accounts := service.NewAccountService(pgStore, cfg.JWTSecret)
	payments := service.NewPaymentService(pgStore)
	handler := api.NewHandler(accounts, payments, pgStore, watcher, rdb)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")
	r.HandleFunc("/register", handler.RegisterHandler).Methods("POST")
	r.HandleFunc("/login", handler.LoginHandler).Methods("POST")
	r.HandleFunc("/cars", handler.ListCarsHandler).Methods("GET")
	r.HandleFunc("/repair-types", handler.ListRepairTypesHandler).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(api.Auth(cfg.JWTSecret))
	authed.HandleFunc("/users/{id}", handler.GetUserHandler).Methods("GET")
	authed.HandleFunc("/cars", handler.CreateCarHandler).Methods("POST")
	authed.HandleFunc("/issues", handler.CreateIssueHandler).Methods("POST")
	authed.HandleFunc("/repaired-issues/{userId}", handler.RepairedIssuesHandler).Methods("GET")
	authed.HandleFunc("/payments", handler.CreatePaymentHandler).Methods("POST")
	authed.HandleFunc("/events", handler.EventsHandler).Methods("GET")

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logrus.Infof("server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatal(err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logrus.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Errorf("shutdown error: %v", err)
	}
}
