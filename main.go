// Command livewatch watches one YouTube channel for a live broadcast and
// follows its live chat. It:
//   - Loads configuration and initializes structured logging.
//   - Builds one YouTube client per credential set and rotates between them as
//     daily quota runs out.
//   - Runs the monitor loop: resolve the live stream, poll its chat, hand
//     messages to the optional Postgres archive and send queued replies.
//   - Exposes /healthz, /readyz, /status and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/livewatch/breaker"
	"github.com/onnwee/livewatch/cadence"
	"github.com/onnwee/livewatch/chat"
	"github.com/onnwee/livewatch/config"
	"github.com/onnwee/livewatch/crypto"
	"github.com/onnwee/livewatch/db"
	"github.com/onnwee/livewatch/quota"
	"github.com/onnwee/livewatch/server"
	"github.com/onnwee/livewatch/session"
	"github.com/onnwee/livewatch/stream"
	"github.com/onnwee/livewatch/telemetry"
	"github.com/onnwee/livewatch/throttle"
	"github.com/onnwee/livewatch/youtubeapi"
)

func main() {
	// Local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	// Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdown, err := telemetry.InitTracing("livewatch", telemetry.TracingConfigFromEnv())
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("livewatch exited with error", slog.Any("err", err))
		stop()
		shutdown()
		os.Exit(1)
	}
	slog.Info("shutting down")
}

func run(ctx context.Context, cfg *config.Config) error {
	var enc crypto.Encryptor
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		aes, err := crypto.NewAESEncryptor(key)
		if err != nil {
			return err
		}
		enc = aes
	} else {
		slog.Warn("ENCRYPTION_KEY not set; refreshed tokens are stored in plaintext")
	}

	auth := youtubeapi.NewAuth(cfg.YTClientID, cfg.YTClientSecret, &youtubeapi.FileTokenStore{Dir: cfg.CredentialsDir, Enc: enc})
	clients := make(map[string]youtubeapi.Client, len(cfg.CredentialSets))
	var ids []string
	for _, id := range cfg.CredentialSets {
		svc, err := auth.Client(ctx, id)
		if err != nil {
			if errors.Is(err, youtubeapi.ErrNoToken) {
				slog.Warn("credential set has no token; skipping", slog.String("credential", id), slog.String("dir", cfg.CredentialsDir))
				continue
			}
			return err
		}
		clients[id] = svc
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return errors.New("no usable credential sets: run the consent flow to create token files")
	}

	ledger, err := quota.OpenLedger(cfg.DataDir, ids, cfg.QuotaLimit, cfg.QuotaResetZone, time.Now())
	if err != nil {
		return err
	}
	rotator, err := quota.NewRotator(ledger, clients)
	if err != nil {
		return err
	}

	breakers := breaker.NewRegistry(breaker.Config{
		Threshold:      cfg.BreakerThreshold,
		Cooldown:       cfg.BreakerCooldown,
		MaxCooldown:    cfg.BreakerMaxCooldown,
		RequestTimeout: cfg.RequestTimeout,
		IsFailure:      youtubeapi.IsBreakerFailure,
		IsNeutral:      quota.IsLocal,
	})
	pressure := throttle.New(throttle.DefaultConfig(), rotator.Headroom)
	deps := stream.Deps{
		Rotator:  rotator,
		Breakers: breakers,
		Cache:    session.NewCache(cfg.DataDir),
		Throttle: pressure,
	}

	var sink chat.Sink
	var archive server.Pinger
	if cfg.DBDsn != "" {
		database, err := openArchive(ctx, cfg.DBDsn)
		if err != nil {
			return err
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		a := db.NewChatArchive(database)
		sink = chat.ArchiveSink{Archive: a}
		archive = a
	} else {
		slog.Info("chat archive disabled (DB_DSN not set)")
	}

	monitor := chat.NewMonitor(chat.MonitorConfig{
		ChannelID:         cfg.ChannelID,
		MaxCredentialWait: cfg.MaxCredentialWait,
		Resolver:          stream.NewResolver(deps),
		Cadence:           cadence.New(cadence.DefaultConfig(), pressure),
		Poller: chat.NewPoller(deps, chat.PollerConfig{
			DefaultInterval: cfg.DefaultPollInterval,
			FallbackDelay:   cfg.FallbackDelay,
		}, pressure),
		Sender:   chat.NewSender(deps, cfg.SendMinInterval, pressure),
		Sink:     sink,
		Quota:    rotator,
		Breakers: breakers,
		Pressure: pressure.Pressure,
	})

	slog.Info("starting monitor",
		slog.String("channel", cfg.ChannelID),
		slog.Any("credentials", ids),
		slog.String("data_dir", cfg.DataDir))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, server.NewMux(monitor, archive)) })
	return g.Wait()
}

// openArchive connects to Postgres and brings the archive schema up to date.
// Versioned migrations come first; the embedded idempotent SQL is the fallback.
func openArchive(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
		return database, nil
	}
	if v, dirty, err := db.MigrationVersion(database); err == nil {
		slog.Info("versioned migrations completed successfully",
			slog.Uint64("version", uint64(v)),
			slog.Bool("dirty", dirty),
			slog.String("component", "db_migrate"))
	}
	return database, nil
}
