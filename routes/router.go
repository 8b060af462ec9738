package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/picshare/config"
	"github.com/cppla/picshare/controllers"
	"github.com/cppla/picshare/middleware"
	"github.com/cppla/picshare/services"
	"github.com/cppla/picshare/utils"
)

// Deps holds the shared services the controllers are wired with.
type Deps struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Storage  *services.StorageClient
	Queue    *services.BatchQueue
	Notifier *services.Notifier
	Matches  *services.MatchStore
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.GinLogger(gl))
		r.Use(utils.GinRecovery(gl))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(deps.DB, deps.Redis, deps.Storage)
	albumController := controllers.NewAlbumController(deps.DB, deps.Redis, deps.Storage, deps.Notifier, deps.Matches)
	imageController := controllers.NewImageController(deps.DB, deps.Redis, deps.Storage, deps.Queue, albumController)
	notificationController := controllers.NewNotificationController(deps.DB, deps.Redis)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/google", authController.GoogleLogin)
	authGroup.PUT("/fcm-token", middleware.AuthRequired(), authController.UpdateFCMToken)
	authGroup.POST("/profile-image/presign", middleware.AuthRequired(), authController.ProfileImagePresign)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	albums := protected.Group("/albums")
	albums.POST("", albumController.Create)
	albums.GET("", albumController.List)
	albums.GET("/shared", albumController.ListShared)
	albums.PUT("/:albumId", albumController.Update)
	albums.DELETE("/:albumId", albumController.Delete)
	albums.POST("/:albumId/cover/presign", albumController.CoverPresign)
	albums.POST("/:albumId/share", albumController.Share)
	albums.DELETE("/:albumId/share/:userId", albumController.Unshare)
	albums.GET("/:albumId/suggestions", albumController.Suggestions)

	albums.POST("/:albumId/images/presign", imageController.Presign)
	albums.GET("/:albumId/images", imageController.List)
	albums.GET("/:albumId/images/blur", imageController.ListBlur)
	albums.GET("/:albumId/images/duplicates", imageController.ListDuplicates)
	albums.DELETE("/:albumId/images/:imageId", imageController.Delete)
	albums.PUT("/:albumId/images/unflag-blur", imageController.UnflagBlur)
	albums.PUT("/:albumId/images/unflag-duplicates", imageController.UnflagDuplicates)

	notifications := protected.Group("/notifications")
	notifications.GET("", notificationController.List)
	notifications.DELETE("/:notificationId", notificationController.Delete)
	notifications.DELETE("", notificationController.Clear)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
