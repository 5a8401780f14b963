package main

import (
	"context"
	"log"

	"github.com/streamly/streamly-services-uploads/auth"
	"github.com/streamly/streamly-services-uploads/caching"
	"github.com/streamly/streamly-services-uploads/handlers"
	"github.com/streamly/streamly-services-uploads/queues"
	"github.com/streamly/streamly-services-uploads/search"
	"github.com/streamly/streamly-services-uploads/services"
	"github.com/streamly/streamly-services-uploads/store"
)

type Stores struct {
	videos  store.VideoStore
	objects store.ObjectStorage
	index   search.Index
}

type Services struct {
	Registry services.RegistryService
	Sync     services.SyncService
	Uploads  services.UploadService
	Repair   queues.SearchRepairQueue

	Stores *Stores

	UploadHandler *handlers.HTTPHandler
}

type Shutdowner interface {
	Shutdown(context.Context) error
}

func BuildServices(app *App) *Services {
	videoStore := store.NewGormVideoStoreImpl(app.DB, app.Logger)
	objectStorage := store.NewS3ObjectStorageImpl(app.S3, app.Config.AWS.VideosBucket, app.Config.AWS.SignTTL, app.Logger)
	index := search.NewTypesenseIndexImpl(app.Typesense, app.Config.Typesense.Collection, app.Logger)

	var cachingSvc caching.CachingService
	cachingSvc = caching.NewRedisCachingService(app.Redis)
	if app.Redis == nil {
		cachingSvc = caching.NewNullCachingService()
	}

	repairQueue := queues.NewSearchRepairQueueImpl(
		context.Background(),
		app.Sqs,
		videoStore,
		index,
		app.Config.AWS.SearchRepairQueueURL,
		app.Logger,
	)
	if app.Config.AWS.SearchRepairQueueURL != "" {
		repairQueue.Start()
	}

	registrySvc := services.NewRegistryServiceImpl(videoStore, cachingSvc, app.Logger)
	syncSvc := services.NewSyncServiceImpl(index, repairQueue, app.Logger)
	uploadSvc := services.NewUploadServiceImpl(registrySvc, objectStorage, syncSvc, app.Logger)

	verifier := auth.NewJWTVerifierImpl(app.Config.Auth.JWTSecret, app.Config.Auth.Issuer)
	handler := handlers.NewHTTPHandler(uploadSvc, verifier, app.Logger)

	return &Services{
		Registry: registrySvc,
		Sync:     syncSvc,
		Uploads:  uploadSvc,
		Repair:   repairQueue,

		Stores: &Stores{
			videos:  videoStore,
			objects: objectStorage,
			index:   index,
		},

		UploadHandler: handler,
	}
}

func (s *Services) Shutdown(ctx context.Context) error {
	log.Println("shutting down services")

	if s.Repair != nil {
		s.Repair.Stop()
	}

	if s.Stores != nil {
		if err := s.Stores.Shutdown(ctx); err != nil {
			log.Printf("stores shutdown error: %v", err)
		}
	}

	log.Println("services shutdown complete")
	return nil
}

func (s *Stores) Shutdown(ctx context.Context) error {
	log.Println("shutting down stores")

	shutdownIfPossible := func(name string, v any) {
		if sh, ok := v.(Shutdowner); ok {
			if err := sh.Shutdown(ctx); err != nil {
				log.Printf("%s store shutdown error: %v", name, err)
			}
		}
	}

	shutdownIfPossible("videos", s.videos)
	shutdownIfPossible("objects", s.objects)
	shutdownIfPossible("index", s.index)

	log.Println("stores shutdown complete")
	return nil
}
