package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/example/currency-check/internal/auth"
	"github.com/example/currency-check/internal/config"
	"github.com/example/currency-check/internal/grpchealth"
	"github.com/example/currency-check/internal/handlers"
	"github.com/example/currency-check/internal/logging"
	"github.com/example/currency-check/internal/oracle"
	"github.com/example/currency-check/internal/repository"
	"github.com/example/currency-check/internal/usecase"
)

func runServe(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(parent, 15*time.Second)
	defer cancel()

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.DatabaseDebug)
	if err != nil {
		logger.Error("failed to connect to database", zap.Error(err))
		return err
	}
	if err := repository.AutoMigrate(ctx, db, logger); err != nil {
		return err
	}

	credentials := auth.NewCredentialStore(repository.NewUserRepository(db), cfg.BcryptCost, logger)
	if err := seedAdmin(ctx, credentials, cfg.AdminUsername, cfg.AdminPassword, logger); err != nil {
		logger.Error("failed to seed admin account", zap.Error(err))
		return err
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		redisClient, err = initRedis(redisCtx, cfg.RedisAddr)
		redisCancel()
		if err != nil {
			logger.Error("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
			return err
		}
		defer redisClient.Close()
	}

	var sessions auth.SessionRegistry = auth.NewMemoryRegistry(cfg.SessionTTL)
	var cache usecase.Cache = usecase.NopCache{}
	if redisClient != nil {
		cache = usecase.NewRedisCache(redisClient)
		if cfg.SessionBackend == "redis" {
			sessions = auth.NewRedisRegistry(redisClient, cfg.SessionTTL)
		}
	}

	var client oracle.Client
	if cfg.OracleConfigured() {
		gemini, err := oracle.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
		if err != nil {
			return err
		}
		client = gemini
	} else {
		logger.Warn("GEMINI_API_KEY not set; /predict will answer 500 until it is configured")
	}

	uc := usecase.NewDetectionUseCase(repository.NewHistoryRepository(db), cache, client, logger, usecase.Options{
		MaxImageDimension: cfg.MaxImageDimension,
		MaxImagePixels:    cfg.MaxImagePixels,
		OracleTimeout:     cfg.OracleTimeout,
	})

	if cfg.LogLevel != zapcore.DebugLevel.String() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.MaxUploadBytes

	handlers.New(uc, credentials, sessions, handlers.Options{
		CookieName:    cfg.CookieName,
		CookieSecure:  cfg.CookieSecure,
		SessionTTL:    cfg.SessionTTL,
		MaxUploadSize: cfg.MaxUploadBytes,
	}, logger).RegisterRoutes(r)

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen for gRPC health", zap.Error(err))
			return err
		}
		healthServer := grpchealth.NewServer(uc.OracleConfigured(), logger)
		go func() {
			if err := healthServer.Serve(lis); err != nil {
				logger.Error("gRPC health server stopped", zap.Error(err))
			}
		}()
		defer healthServer.Stop()
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("currency-check API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		return err
	}
	return nil
}

// seedAdmin creates the admin account on first run. Without a configured
// password a random one is generated and logged once.
func seedAdmin(ctx context.Context, credentials *auth.CredentialStore, username, password string, logger *zap.Logger) error {
	generated := password == ""
	if generated {
		var err error
		if password, err = auth.NewToken(); err != nil {
			return err
		}
	}

	created, err := credentials.SeedAdmin(ctx, username, password)
	if err != nil || !created {
		return err
	}
	if generated {
		logger.Warn("seeded admin account with a generated password; set admin_password or change it",
			zap.String("username", username),
			zap.String("password", password))
		return nil
	}
	logger.Info("seeded admin account", zap.String("username", username))
	return nil
}

func initRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
