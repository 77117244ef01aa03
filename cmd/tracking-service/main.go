package main

import (
	"context"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ca3de/CRET-Scan/internal/config"
	"github.com/Ca3de/CRET-Scan/internal/engine"
	"github.com/Ca3de/CRET-Scan/internal/httpapi"
	"github.com/Ca3de/CRET-Scan/internal/hub"
	"github.com/Ca3de/CRET-Scan/internal/policy"
	"github.com/Ca3de/CRET-Scan/internal/store/postgres"
	"github.com/Ca3de/CRET-Scan/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("tracking-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("load timezone %q: %v", cfg.Timezone, err)
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	pol := policy.NewEvaluator(st, cfg.WeeklyWarnThresholdHours, loc)
	eng := engine.New(st, pol, nil)
	sweeper := engine.NewSweeper(st, cfg.StaleAfter, cfg.StaleCredit, nil)
	events := hub.New()

	handler := httpapi.NewHandler(st, eng, sweeper, httpapi.Options{Hub: events})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:       cfg.RateLimitPerMinute,
		IPBurst:           cfg.RateLimitBurst,
		OperatorPerMinute: cfg.OperatorRateLimitPerMinute,
		OperatorBurst:     cfg.OperatorRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/realtime/", newRealtimeHandler(events))
	mux.Handle("/", handler.Routes())

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "tracking-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("tracking-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go func() {
		if cfg.SweepInterval <= 0 {
			return
		}
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			result, err := sweeper.Sweep(ctx)
			cancel()
			if err != nil {
				log.Printf("sweep error: %v", err)
				continue
			}
			for _, failure := range result.Failures {
				log.Printf("sweep close error session=%s: %v", failure.SessionID, failure.Err)
			}
			if result.Closed > 0 {
				log.Printf("sweep closed %d stale sessions", result.Closed)
				events.Publish(hub.EventSessionsSwept, result, time.Now().UTC())
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func newRealtimeHandler(events *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		events.Register(client)
		defer events.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				events.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			events.UpdateSubscription(client, hub.Subscription{EventType: parsed.EventType})
		}
	})
}
