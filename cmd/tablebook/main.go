package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/api"
	"tablebook/internal/availability"
	"tablebook/internal/checkin"
	"tablebook/internal/config"
	"tablebook/internal/db"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/notify"
	"tablebook/internal/realtime"
	"tablebook/internal/reservations"
	"tablebook/internal/staff"
	"tablebook/shared/audit"
)

const sessionTimeout = 15 * time.Minute

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("TABLEBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer database.Close()

	if err := config.WatchBusinesses(ctx, cfg.BusinessesPath, 0, func(bc *config.BusinessesConfig) {
		if err := database.SyncBusinessesFromConfig(ctx, bc); err != nil {
			logger.Error().Err(err).Msg("failed to sync businesses")
			return
		}
		logger.Info().Int("businesses", len(bc.Businesses)).Msg("Businesses synced from config")
	}, func(err error) {
		logger.Error().Err(err).Msg("failed to reload businesses config")
	}); err != nil {
		logger.Warn().Err(err).Msg("businesses config not loaded, using stored profiles")
	}

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	reader := availability.NewReader(database, &logger)
	if rdb != nil {
		reader.UseRedisCache(rdb, cfg.AvailabilityCacheTTL())
	}

	bus := realtime.NewBus(&logger)
	attachTransport(ctx, cfg, bus, rdb, &logger)

	hub := realtime.NewHub(cfg.Server.AllowedOrigins, &logger)
	invalidator := realtime.NewInvalidator(ctx, cfg.InvalidationDebounce(), func(ctx context.Context, key realtime.Key) {
		if key.Entity == realtime.EntityAvailability {
			reader.InvalidateBusiness(ctx, key.BusinessID)
		}
		hub.Broadcast(key.BusinessID, realtime.StaleMessage{Type: "stale", Entity: key.Entity, BusinessID: key.BusinessID})
	}, &logger)
	defer invalidator.Stop()
	bus.Subscribe(realtime.AllTables, invalidator.Handle)

	// Notification channels are optional; interfaces stay nil when a channel is off.
	var (
		notifiers   notify.Fanout
		alerts      api.Alerts
		auditSender audit.Notifier
		functions   *notify.Functions
	)
	if cfg.Telegram.BotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot error")
		}
		tg := notify.NewTelegram(bot, database, cfg.Telegram.AdminChatID, &logger)
		notifiers = append(notifiers, tg)
		alerts, auditSender = tg, tg
	}
	if cfg.Functions.BaseURL != "" {
		functions = notify.NewFunctions(notify.FunctionsConfig{
			BaseURL:    cfg.Functions.BaseURL,
			APIKey:     cfg.Functions.APIKey,
			Timeout:    cfg.FunctionsTimeout(),
			MaxRetries: cfg.Functions.MaxRetries,
		}, &logger)
		notifiers = append(notifiers, functions)
	}
	checkedIn := func(ctx context.Context, r *model.Reservation) {
		if functions != nil {
			go functions.CheckedIn(context.WithoutCancel(ctx), r)
		}
	}

	background := notify.NewBackground(notifiers, time.Minute)
	defer background.Wait()

	service := reservations.NewService(database, background, bus, reservations.Options{
		GracePeriod: cfg.GracePeriod(),
		MaxAdvance:  cfg.BookingMaxAdvance(),
	}, &logger)

	verifier := checkin.NewVerifier(database, bus, checkin.VerifierOptions{RecordCheckIn: true}, &logger)
	sessions := checkin.NewSessionStore(sessionTimeout, func(businessID, staffID string, scanner checkin.Scanner) *checkin.Session {
		return checkin.NewSession(businessID, staffID, scanner, verifier, &logger).
			OnSuccess(func(res checkin.Result) {
				if res.Recorded {
					checkedIn(ctx, res.Reservation)
				}
			})
	})
	go cleanupSessions(ctx, sessions, &logger)

	if err := reservations.NewSweeper(service, cfg.Booking.NoShowSweepSchedule, &logger).Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start no-show sweeper error")
	}
	if err := db.NewBackupService(database, cfg.Backup, &logger).Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("start backup service error")
	}
	if cfg.Audit.Enabled {
		auditService := audit.NewService(&audit.Config{
			RetentionDays: cfg.Audit.RetentionDays,
			Schedule:      cfg.Audit.Schedule,
			ExportDir:     cfg.Audit.ExportDir,
		}, database, nil, auditSender, database, &logger)
		if err := auditService.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("start audit service error")
		}
		defer auditService.Stop()
	}

	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, database, rdb, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	server := api.NewHTTPServer(api.Services{
		Store:        database,
		Reservations: service,
		Control:      staff.NewControl(database, reader, bus, &logger),
		Reader:       reader,
		Verifier:     verifier,
		Sessions:     sessions,
		Hub:          hub,
		Publisher:    bus,
		Alerts:       alerts,
		CheckedIn:    checkedIn,
		Ready:        database.PingContext,
	}, api.Options{
		Port:           cfg.Server.Port,
		JWTSecret:      cfg.Auth.JWTSecret,
		Issuer:         cfg.Auth.Issuer,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		ReadTimeout:    cfg.ReadTimeout(),
		WriteTimeout:   cfg.WriteTimeout(),
	}, &logger)

	logger.Info().Msg("tablebook started")
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("api server error")
	}
}

// attachTransport bridges the change bus to other instances over the
// configured transport. Without one, changes stay in process.
func attachTransport(ctx context.Context, cfg *config.Config, bus *realtime.Bus, rdb *redis.Client, logger *zerolog.Logger) {
	var (
		t   realtime.Transport
		err error
	)
	switch cfg.Realtime.Transport {
	case "redis":
		t = realtime.NewRedisTransport(rdb, cfg.Realtime.Channel, logger)
	case "amqp":
		t, err = realtime.NewAMQPTransport(cfg.Realtime.AMQPURL, cfg.Realtime.Channel, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect amqp error")
		}
	default:
		return
	}

	if err := bus.Attach(ctx, t); err != nil {
		logger.Fatal().Err(err).Str("transport", cfg.Realtime.Transport).Msg("attach realtime transport error")
	}
	go func() {
		<-ctx.Done()
		_ = t.Close()
	}()
}

func cleanupSessions(ctx context.Context, sessions *checkin.SessionStore, logger *zerolog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Cleanup(); n > 0 {
				logger.Debug().Int("sessions", n).Msg("Expired check-in sessions closed")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, database *db.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := database.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "health", logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serve(ctx, &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, "metrics", logger)
}

func serve(ctx context.Context, srv *http.Server, name string, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}
