package main

import (
	"context"
	"time"

	"github.com/cppla/picshare/config"
	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/routes"
	"github.com/cppla/picshare/services"
	"github.com/cppla/picshare/utils"
)

func main() {
	cfg := config.Load()

	// Initialize logger early
	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}

	db := config.InitDatabase(
		&models.User{},
		&models.Album{},
		&models.AlbumMember{},
		&models.Image{},
		&models.Notification{},
	)
	rc := utils.GetRedis()

	ctx := context.Background()
	storage, err := services.NewStorageClient(ctx, cfg)
	if err != nil {
		utils.Sugar.Fatalf("failed to init storage client: %v", err)
	}
	classifier, err := services.NewLambdaClassifier(ctx, cfg, utils.Sugar)
	if err != nil {
		utils.Sugar.Fatalf("failed to init classifier client: %v", err)
	}

	// Push delivery is best-effort end to end; boot without it if Firebase
	// credentials are absent or invalid.
	var pusher services.Pusher
	if fcm, err := services.NewFCMPusher(ctx, cfg.FirebaseCredentialsFile); err != nil {
		utils.Sugar.Warnf("push delivery disabled: %v", err)
	} else {
		pusher = fcm
	}

	notifier := services.NewNotifier(db, rc, pusher, utils.Sugar)
	matches := services.NewMatchStore(rc, time.Duration(cfg.MatchTTLHours)*time.Hour, utils.Sugar)

	faceReports := services.NewReportScheduler(services.ReportFace,
		time.Duration(cfg.FaceReportDelaySec)*time.Second, cfg.ReportMaxAttempts,
		services.FaceReportRunner(db, matches, notifier, utils.Sugar), utils.Sugar)
	blurReports := services.NewReportScheduler(services.ReportBlur,
		time.Duration(cfg.BlurReportDelaySec)*time.Second, cfg.ReportMaxAttempts,
		services.BlurReportRunner(db, notifier, utils.Sugar), utils.Sugar)
	duplicateReports := services.NewReportScheduler(services.ReportDuplicate,
		time.Duration(cfg.DuplicateReportDelaySec)*time.Second, cfg.ReportMaxAttempts,
		services.DuplicateReportRunner(db, notifier, utils.Sugar), utils.Sugar)

	queue := services.NewBatchQueue(
		services.BatchQueueOptions{
			Workers:     cfg.BatchWorkers,
			MaxAttempts: cfg.BatchMaxAttempts,
			BackoffBase: time.Duration(cfg.BatchBackoffBaseMS) * time.Millisecond,
		},
		storage, classifier, classifier, classifier,
		matches, faceReports, blurReports, duplicateReports,
		utils.Sugar,
	)
	queue.Start()

	r := routes.SetupRouter(routes.Deps{
		DB:       db,
		Redis:    rc,
		Storage:  storage,
		Queue:    queue,
		Notifier: notifier,
		Matches:  matches,
	})

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	err = utils.GraceServer(":"+cfg.AppPort, r, func() {
		queue.Stop()
		faceReports.Wait()
		blurReports.Wait()
		duplicateReports.Wait()
	})
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
