package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/events"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	redisstore "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runServer(cmd.Context(), cfg, *port, logger)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, portFlag string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL, logger); err != nil {
			return err
		}
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	defer rt.close()
	if err != nil {
		return err
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	// No write timeout: live WebSocket connections outlive any single response.
	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(rt.service, logger),
		ReadHeaderTimeout: 15 * time.Second,
	}
	shutdownTimeout := config.TTLDuration(cfg.Server.ShutdownTimeout, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting live quiz service",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.StoreKind()),
			zap.Bool("events", cfg.Events.Enabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	if rt.audit != nil {
		g.Go(func() error {
			return events.RunAuditLog(gctx, rt.audit, logger.Named("audit"))
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server", zap.Duration("timeout", shutdownTimeout))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runtime holds the wired service and what must be released on shutdown.
type runtime struct {
	service *app.LiveService
	audit   <-chan *message.Message
	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *zap.Logger) (*runtime, error) {
	rt := &runtime{}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes()...)
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, pool.Close)
		loader = postgres.NewQuizLoader(pool)
	}
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	var (
		sessions app.SessionStore
		progress app.ProgressStore
		quizzes  app.QuizRepository
	)
	switch cfg.StoreKind() {
	case config.StoreRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		opts := redisstore.Options{
			Prefix: cfg.Redis.Prefix,
			TTL:    config.TTLDuration(cfg.Redis.TTL, 12*time.Hour),
			Logger: logger.Named("redis"),
		}
		sessions = redisstore.NewSessionStore(client, opts)
		progress = redisstore.NewProgressStore(client, opts)
		quizzes = redisstore.NewQuizRepository(client, loader, quizTTL, opts)
	default:
		bus := memory.NewNotifier(logger.Named("bus"))
		rt.closers = append(rt.closers, func() { _ = bus.Close() })
		sessions = memory.NewSessionStore(bus)
		progress = memory.NewProgressStore(bus)
		quizzes = memory.NewQuizRepository(loader, quizTTL)
	}

	opts := app.Options{
		GraceWindow:  config.TTLDuration(cfg.Live.GraceWindow, 0),
		AutoComplete: cfg.Live.AutoComplete,
		Logger:       logger.Named("live"),
		Retry: app.RetryPolicy{
			MaxRetries:      cfg.Live.SubmitMaxRetries,
			InitialInterval: config.TTLDuration(cfg.Live.SubmitInitialBackoff, 0),
			MaxInterval:     config.TTLDuration(cfg.Live.SubmitMaxBackoff, 0),
		},
	}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(events.PublisherConfig{
			Backend:      cfg.Events.Publisher,
			KafkaBrokers: cfg.Events.KafkaBrokers,
			Topic:        cfg.Events.Topic,
			Logger:       logger.Named("events"),
		})
		if err != nil {
			return rt, err
		}
		rt.closers = append(rt.closers, func() { _ = pub.Close() })
		opts.Publisher = pub
		if cfg.Events.Publisher != events.BackendKafka {
			audit, err := pub.Subscribe(ctx)
			if err != nil {
				return rt, err
			}
			rt.audit = audit
		}
	}

	rt.service = app.NewLiveService(sessions, progress, quizzes, opts)
	return rt, nil
}
