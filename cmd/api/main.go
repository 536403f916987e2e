package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vidtube/internal/config"
	"vidtube/internal/db"
	apihttp "vidtube/internal/http"
	"vidtube/internal/media"
	"vidtube/internal/repository"
	"vidtube/internal/service"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	userRepo, closeStore, err := openUserStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store connect", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer closeStore()

	var loginLimiter service.LoginRateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process login limiter", zap.Error(err))
		} else {
			loginLimiter = service.NewRedisLoginRateLimiter(redisClient, cfg.LoginWindow, cfg.LoginMaxAttempts)
		}
		cancel()
	}
	if loginLimiter == nil {
		loginLimiter = service.NewMemoryLoginRateLimiter(cfg.LoginWindow, cfg.LoginMaxAttempts)
	}

	var uploader media.Uploader = media.NewDisabledUploader("media storage not configured")
	if cfg.S3Bucket != "" {
		s3Uploader, err := media.NewS3Uploader(ctx, media.S3Config{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Endpoint:      cfg.S3Endpoint,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.MediaPublicBaseURL,
			KeyPrefix:     cfg.MediaKeyPrefix,
		})
		if err != nil {
			logger.Warn("s3 uploader init failed", zap.Error(err))
		} else {
			uploader = s3Uploader
		}
	} else {
		logger.Warn("S3_BUCKET not set, image uploads will fail")
	}

	jwtSvc := service.NewJWTService(service.TokenConfig{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenExpiry,
		RefreshTTL:    cfg.RefreshTokenExpiry,
		Issuer:        cfg.TokenIssuer,
	})
	userSvc := service.NewUserService(logger, userRepo, service.NewBcryptHasher(cfg.BcryptCost), jwtSvc, uploader, loginLimiter)

	uploads, err := apihttp.NewTempUploads(cfg.UploadDir)
	if err != nil {
		logger.Fatal("upload dir", zap.String("dir", cfg.UploadDir), zap.Error(err))
	}
	cookies := apihttp.NewCookieHelper(apihttp.CookieConfig{
		Secure:   cfg.CookieSecure,
		SameSite: cfg.SameSite(),
		Domain:   cfg.CookieDomain,
	})

	userHandler := apihttp.NewUserHandler(logger, userSvc, jwtSvc, cookies, uploads)
	healthHandler := apihttp.NewHealthHandler(userRepo)
	router := apihttp.NewRouter(logger, apihttp.RouterConfig{
		CORSOrigin:         cfg.CORSOrigin,
		MaxMultipartMemory: cfg.MaxUploadBytes,
	}, jwtSvc, cookies, userHandler, healthHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.StoreDriver))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	logger.Info("server stopped")
}

// openUserStore abre el almacén de credenciales según STORE_DRIVER.
func openUserStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.UserRepository, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if cfg.RunMigrations {
			if err := db.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repository.NewPgUserRepository(pool), pool.Close, nil
	case "memory":
		logger.Warn("using in-memory user store, data is lost on restart")
		return repository.NewMemoryUserRepository(), func() {}, nil
	default:
		client, err := db.NewMongoClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			ctxClose, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctxClose)
		}
		repo := repository.NewMongoUserRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		return repo, closeFn, nil
	}
}
