package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/typesense/typesense-go/v2/typesense"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/streamly/streamly-services-uploads/config"
	"github.com/streamly/streamly-services-uploads/health"
	"github.com/streamly/streamly-services-uploads/logging"
	"github.com/streamly/streamly-services-uploads/metrics"
	"github.com/streamly/streamly-services-uploads/store"
)

type App struct {
	Engine *gin.Engine
	Server *http.Server

	DB        *gorm.DB
	S3        *s3.Client
	Sqs       *sqs.Client
	Redis     *redis.Client
	Typesense *typesense.Client

	Config    *config.Config
	AwsConfig aws.Config

	Services *Services
	Logger   logging.Logger

	ready atomic.Bool
}

func SetupApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.AWS.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	awsCfg, err := initAWS(cfg.AWS)
	if err != nil {
		return nil, err
	}

	db, err := initPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("could not init postgres: %w", err)
	}

	rdb := initRedis(cfg.Redis)

	s3Client := initS3(awsCfg, cfg.AWS)
	if s3Client == nil {
		return nil, errors.New("could not init s3")
	}

	sqsClient := initSqs(awsCfg, cfg.AWS)

	tsClient := typesense.NewClient(
		typesense.WithServer(cfg.Typesense.URL()),
		typesense.WithAPIKey(cfg.Typesense.APIKey),
	)

	appLogger := logging.NewSlogLogger(logging.CreateAppLogger(cfg.Env))

	app := &App{
		DB:        db,
		S3:        s3Client,
		Sqs:       sqsClient,
		Redis:     rdb,
		Typesense: tsClient,

		Config:    cfg,
		AwsConfig: awsCfg,
		Logger:    appLogger,
	}

	if err := store.NewGormVideoStoreImpl(db, appLogger).Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	app.Services = BuildServices(app)

	return app, nil
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if a.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a.Engine = gin.New()
	a.Engine.Use(gin.Recovery())

	a.RegisterHandlers()
	a.startReadinessLoop(ctx)

	a.Server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: a.Engine,
	}

	a.Logger.Info("http server started", "addr", a.Server.Addr)
	if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) RegisterHandlers() {
	a.Services.UploadHandler.Register(a.Engine)

	a.Engine.GET("/healthz", func(c *gin.Context) {
		if a.ready.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
	})

	a.Engine.GET("/metrics", gin.WrapH(metrics.Handler()))
}

// startReadinessLoop probes the stores on a ticker and feeds /healthz.
// It starts pessimistic so load balancers hold traffic until every
// dependency answers.
func (a *App) startReadinessLoop(ctx context.Context) {
	a.ready.Store(false)

	checks := []health.ReadinessCheck{
		a.Services.Stores.videos,
		a.Services.Stores.objects,
		a.Services.Stores.index,
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ready := true

				for _, c := range checks {
					cctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
					err := c.IsReady(cctx)
					cancel()

					if err != nil {
						a.Logger.Warn("readiness check failed", "check", c.Name(), "error", err)
						ready = false
						break
					}
				}

				a.ready.Store(ready)
			}
		}
	}()
}

func initAWS(cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(
		context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func initPostgres(cfg config.DatabaseConfig) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
}

func initRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func initS3(awsCfg aws.Config, cfg config.AWSConfig) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// MinIO and localstack need path-style addressing
			o.UsePathStyle = true
		}
	})
}

func initSqs(awsCfg aws.Config, cfg config.AWSConfig) *sqs.Client {
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
}

func (a *App) Shutdown(ctx context.Context) error {
	log.Println("starting graceful shutdown")

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			log.Printf("http server shutdown error: %v", err)
		}
	}

	if a.Services != nil {
		if err := a.Services.Shutdown(ctx); err != nil {
			log.Printf("services shutdown error: %v", err)
		}
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
	}

	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Printf("db close error: %v", err)
			}
		}
	}

	log.Println("graceful shutdown complete")
	return nil
}
