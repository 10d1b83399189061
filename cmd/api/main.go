package main

import (
	"context"
	"database/sql"
	"embed"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	apppkg "github.com/ticketops/sla-engine/cmd/api/app"
	"github.com/ticketops/sla-engine/cmd/api/events"
	"github.com/ticketops/sla-engine/cmd/api/slas"
	"github.com/ticketops/sla-engine/internal/ratelimit"
	"github.com/ticketops/sla-engine/internal/sla"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	cfg := apppkg.GetConfig()
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer pool.Close()

	// Migrate (embedded goose) using pgx stdlib driver
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("goose dialect")
	}
	sqldb, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("sql open for goose")
	}
	defer sqldb.Close()
	if err := goose.UpContext(ctx, sqldb, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("migrate up")
	}

	// Redis client (optional; disables queueing and shared rate limits)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error().Err(err).Msg("redis ping")
		}
	}

	a := apppkg.NewApp(cfg, pool, rdb)
	a.Store = sla.NewPgStore(pool)
	a.Rules = a.Store
	a.Calendars = sla.NewCalendarStore(pool, sla.NewTTLCache(cfg.CacheTTL))
	a.Tracker = sla.NewTracker(a.Store, a.Store, a.Calendars)

	var notifier sla.Notifier = sla.LogNotifier{}
	if rdb != nil {
		notifier = sla.NewQueueNotifier(rdb, cfg.NotifyQueue)
	}
	a.Engine = sla.NewEngine(a.Tracker, a.Store, a.Store, a.Store, notifier)

	sla.RegisterMetrics(prometheus.DefaultRegisterer)

	routes(a, rdb)

	log.Info().Str("addr", cfg.Addr).Msg("api listening")
	if err := a.R.Run(cfg.Addr); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

func routes(a *apppkg.App, rdb *redis.Client) {
	a.R.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	a.R.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.R.GET("/tickets/:id/sla", slas.Status(a))
	a.R.POST("/tickets/:id/sla/recompute", slas.Recompute(a))
	a.R.POST("/tickets/:id/sla/pause", slas.Pause(a))
	a.R.POST("/tickets/:id/sla/resume", slas.Resume(a))
	a.R.POST("/sla/status", slas.BulkStatus(a))
	a.R.GET("/sla/rules", slas.Rules(a))
	a.R.POST("/sla/notifications/:id/delivery", slas.ReportDelivery(a))
	a.R.POST("/events/ticket", events.Ingest(a))

	// operational endpoints share a cluster-wide budget
	ops := a.R.Group("/")
	if rdb != nil {
		opsLimiter := ratelimit.New(rdb, 6, time.Minute, "ops")
		ops.Use(opsLimiter.Middleware(func(c *gin.Context) string { return c.ClientIP() }))
	}
	ops.POST("/sla/sweep", slas.Sweep(a))
	ops.POST("/admin/sla/cache/invalidate", slas.InvalidateCache(a))
}
