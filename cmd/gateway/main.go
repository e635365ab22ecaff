package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/bhumitgoyal/convo-legal-mistral/pkg/audit"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/httpx"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/metrics"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/negotiation"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/oracle"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/ratelimit"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/store"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/stream"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/telemetry"
	"github.com/bhumitgoyal/convo-legal-mistral/pkg/verdictbus"
)

// Server wires the negotiation store, oracle and supporting infrastructure
// into the HTTP surface.
type Server struct {
	Store               *negotiation.Store
	Audit               *audit.Trail
	Oracle              oracle.Client
	Cache               store.Cache
	VerdictCacheTTL     time.Duration
	Metrics             *metrics.Registry
	Events              *stream.Hub
	Bus                 *verdictbus.Publisher
	OracleTimeout       time.Duration
	RateLimiter         ratelimit.Limiter
	RateLimitEnabled    bool
	RateLimitPerMinute  int
	MaxRequestBodyBytes int64
}

type gatewayInitTelemetryFunc func(ctx context.Context, service string) (func(context.Context) error, error)
type gatewayOpenRedisFunc func(ctx context.Context) (*redis.Client, error)
type gatewayListenFunc func(server *http.Server) error

var (
	logFatalf = log.Fatalf
	logPrintf = log.Printf
)

func main() {
	if err := runGateway(telemetry.Init, openRedis, func(server *http.Server) error {
		return server.ListenAndServe()
	}); err != nil {
		logFatalf("gateway: %v", err)
	}
}

func openRedis(ctx context.Context) (*redis.Client, error) {
	addr := strings.TrimSpace(env("REDIS_ADDR", ""))
	if addr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: env("REDIS_PASSWORD", ""),
		DB:       envInt("REDIS_DB", 0),
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runGateway(initTelemetry gatewayInitTelemetryFunc, openRedisFn gatewayOpenRedisFunc, listen gatewayListenFunc) error {
	ctx := context.Background()
	shutdown, err := initTelemetry(ctx, "gateway")
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	apiKey := env("ORACLE_API_KEY", env("OPENROUTER_API_KEY", ""))
	if apiKey == "" {
		log.Printf("warning: ORACLE_API_KEY is not set; mediation calls will be rejected upstream")
	}

	redisClient, err := openRedisFn(ctx)
	if err != nil {
		log.Printf("redis unavailable, falling back to in-memory cache/limits: %v", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	sessionTTL := time.Second * time.Duration(envInt("SESSION_TTL_SEC", 86400))
	completedTTL := time.Second * time.Duration(envInt("COMPLETED_TTL_SEC", 3600))
	sessionStore := negotiation.NewStore(sessionTTL, completedTTL)
	trail := audit.NewTrail(env("AUDIT_SALT", ""), envInt("AUDIT_MAX_RECORDS", 64))
	sessionStore.SetOnEvict(trail.Drop)
	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	sessionStore.StartJanitor(janitorCtx, time.Second*time.Duration(envInt("JANITOR_INTERVAL_SEC", 60)))

	oracleTimeout := time.Millisecond * time.Duration(envInt("ORACLE_TIMEOUT_MS", 30000))
	s := &Server{
		Store: sessionStore,
		Audit: trail,
		Oracle: &oracle.HTTPClient{
			Client:      telemetry.InstrumentClient(&http.Client{Timeout: oracleTimeout}),
			URL:         env("ORACLE_URL", oracle.DefaultURL),
			APIKey:      apiKey,
			Model:       env("ORACLE_MODEL", oracle.DefaultModel),
			Temperature: envFloat("ORACLE_TEMPERATURE", oracle.DefaultTemperature),
			Retries:     envInt("ORACLE_RETRIES", 1),
			RetryDelay:  time.Millisecond * time.Duration(envInt("ORACLE_RETRY_DELAY_MS", 200)),
		},
		Cache:               store.NewCache(ctx, redisClient),
		VerdictCacheTTL:     time.Second * time.Duration(envInt("VERDICT_CACHE_TTL_SEC", 3600)),
		Metrics:             metrics.NewRegistry(),
		Events:              stream.NewHub(),
		OracleTimeout:       oracleTimeout,
		RateLimitEnabled:    env("RATE_LIMIT_ENABLED", "false") == "true",
		RateLimitPerMinute:  envInt("RATE_LIMIT_PER_MINUTE", 120),
		MaxRequestBodyBytes: int64(envInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
	}

	rateLimitWindow := time.Second * time.Duration(envInt("RATE_LIMIT_WINDOW_SEC", 60))
	if s.RateLimitEnabled {
		if redisClient != nil {
			s.RateLimiter = ratelimit.NewRedis(redisClient, rateLimitWindow)
		} else {
			s.RateLimiter = ratelimit.NewInMemory(rateLimitWindow)
		}
	}

	if brokers := env("VERDICT_KAFKA_BROKERS", ""); brokers != "" {
		bus, err := verdictbus.NewPublisher(verdictbus.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   env("VERDICT_KAFKA_TOPIC", "negotiation-verdicts"),
		})
		if err != nil {
			return fmt.Errorf("verdict bus: %w", err)
		}
		defer bus.Close()
		s.Bus = bus
	}

	addr := env("ADDR", ":5500")
	log.Printf("gateway listening on %s", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: envDurationSec("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		ReadTimeout:       envDurationSec("HTTP_READ_TIMEOUT_SEC", 15),
		WriteTimeout:      envDurationSec("HTTP_WRITE_TIMEOUT_SEC", 60),
		IdleTimeout:       envDurationSec("HTTP_IDLE_TIMEOUT_SEC", 120),
	}
	if listen == nil {
		return errors.New("listen function required")
	}
	return listen(server)
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.CORSMiddleware(env("CORS_ALLOWED_ORIGINS", "")))
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(s.metricsMiddleware)
	r.Use(telemetry.HTTPMiddleware("gateway"))
	r.Use(s.limitRequestBodyMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, 200, map[string]string{"status": "ok", "service": "gateway"})
	})
	r.Get("/metrics", s.Metrics.Handler())
	r.Get("/metrics/prometheus", s.Metrics.PrometheusHandler())

	r.Post("/negotiate", s.handleNegotiate)
	r.Get("/negotiation/{negotiation_id}", s.handleGetNegotiation)
	r.Get("/negotiation/{negotiation_id}/audit", s.handleNegotiationAudit)
	r.Delete("/negotiation/{negotiation_id}", s.handleCloseNegotiation)
	r.Get("/v1/stream", s.streamEvents)
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: 200}
		next.ServeHTTP(rec, r)
		if s.Metrics != nil {
			path := r.Method + " " + r.URL.Path
			s.Metrics.Observe(path, rec.status, time.Since(start))
			s.Metrics.ObserveLatency(path, time.Since(start))
			s.Metrics.SetGauge("active_sessions", float64(s.Store.Len()))
		}
	})
}

func (s *Server) limitRequestBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.MaxRequestBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envDurationSec(k string, def int) time.Duration {
	return time.Second * time.Duration(envInt(k, def))
}
