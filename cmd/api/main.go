package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"classattend/internal/analytics"
	"classattend/internal/api"
	"classattend/internal/attendance"
	"classattend/internal/config"
	"classattend/internal/httpmiddleware"
	"classattend/internal/identity"
	"classattend/internal/logging"
	"classattend/internal/notify"
	"classattend/internal/objectstore"
	"classattend/internal/observability"
	"classattend/internal/qrtoken"
	"classattend/internal/session"
	"classattend/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logging.Init(cfg.LogLevel, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := cfg.Validate(); err != nil {
		log.Fatal("refusing to start", zap.Error(err))
	}
	if cfg.JWTSigningKey == "" && cfg.JWKSURL == "" {
		log.Warn("no JWT_SIGNING_KEY or JWKS_URL set; every request is anonymous")
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	flush, err := observability.InitSentry(observability.SentryConfig{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     cfg.Release,
		SampleRate:  cfg.SentrySampleRate,
	})
	if err != nil {
		log.Warn("sentry init failed", zap.Error(err))
	}
	defer flush()

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	health := map[string]api.HealthCheck{}

	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemory()
		log.Warn("using in-memory store; data is lost on restart")
	default:
		db, err := store.Open(context.Background(), cfg.DatabaseURL, store.DefaultPool(cfg.DBMaxConns))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(db); err != nil {
			return err
		}
		st = store.NewPostgres(db)
	}
	health["db"] = func(ctx context.Context) bool { return st.Ping(ctx) == nil }

	var q notify.Queue
	switch cfg.QueueBackend {
	case "memory":
		// nothing outside this process can read the queue, so drain it here
		mq := notify.NewInMemory(256)
		drainCtx, stopDrain := context.WithCancel(context.Background())
		defer stopDrain()
		go func() {
			if err := notify.Drain(drainCtx, mq, notify.LogDelivery(log.Named("notify"))); err != nil {
				log.Error("notification drain stopped", zap.Error(err))
			}
		}()
		q = mq
	default:
		rq := notify.NewRedisQueue(notify.NewRedisClient(cfg.RedisAddr), cfg.NotifyQueueKey)
		health["redis"] = rq.Healthy
		q = rq
	}

	var objects objectstore.Store
	var local *objectstore.Memory
	if cfg.CloudinaryConfigured() {
		objects = objectstore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Info("cloudinary configured", zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		local = objectstore.NewMemory(cfg.PublicBaseURL, cfg.ObjectSigningKey, nil)
		objects = local
		log.Info("cloudinary not configured, serving objects from memory")
	}

	opts := identity.Options{
		SigningKey: cfg.JWTSigningKey,
		Issuer:     cfg.JWTIssuer,
		Groups: identity.GroupMapping{
			cfg.ProfessorGroup: identity.RoleProfessor,
			cfg.StudentGroup:   identity.RoleStudent,
		},
	}
	if cfg.JWKSURL != "" {
		opts.Keys = identity.NewKeyCache(identity.NewHTTPKeySource(cfg.JWKSURL), cfg.JWKSTTL, 30*time.Second)
	}

	codec := qrtoken.NewCodec(nil, cfg.QRDefaultTTL)
	srv := &api.Server{
		Sessions:     session.NewManager(st, codec, objects, log.Named("session")),
		Attendance:   attendance.NewRecorder(st, codec, objects, q, log.Named("attendance"), attendance.WithLinkTTL(cfg.MaterialLinkTTL)),
		Analytics:    analytics.New(st),
		Resolver:     identity.NewResolver(opts),
		Limiter:      httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, nil),
		LocalObjects: local,
		Health:       health,
		Log:          log,
	}

	httpSrv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}
