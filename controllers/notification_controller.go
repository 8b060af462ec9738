package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/picshare/middleware"
	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/utils"
)

// Notification pages are short-lived in cache; the pipeline invalidates them
// on every delivery but a short TTL bounds staleness regardless.
const notificationCacheTTL = 180 * time.Second

// NotificationController serves the persisted notification feed.
type NotificationController struct {
	db *gorm.DB
	rc *redis.Client
}

// NewNotificationController creates a new NotificationController instance.
func NewNotificationController(db *gorm.DB, rc *redis.Client) *NotificationController {
	return &NotificationController{db: db, rc: rc}
}

// List returns the caller's notifications, newest first, paginated and cached.
func (n *NotificationController) List(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page, limit := pagination(ctx)

	key := utils.NotificationsKey(userID, page, limit)
	if cached, ok := utils.CacheGetBytes(n.rc, key); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	var notifications []models.Notification
	if err := n.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&notifications).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to list notifications")
		return
	}

	var total int64
	if err := n.db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50040, "failed to list notifications")
		return
	}

	utils.RespondAndCache(ctx, n.rc, key, gin.H{
		"notifications": notifications,
		"total":         total,
		"page":          page,
		"limit":         limit,
	}, notificationCacheTTL)
}

// Delete removes one notification by its public id, scoped to the caller.
func (n *NotificationController) Delete(ctx *gin.Context) {
	notificationID := ctx.Param("notificationId")
	if notificationID == "" {
		utils.Error(ctx, http.StatusBadRequest, 40040, "invalid notification id")
		return
	}

	userID := middleware.CurrentUserID(ctx)
	res := n.db.Where("notification_id = ? AND user_id = ?", notificationID, userID).
		Delete(&models.Notification{})
	if res.Error != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50041, "failed to delete notification")
		return
	}
	if res.RowsAffected == 0 {
		utils.Error(ctx, http.StatusNotFound, 40440, "notification not found")
		return
	}

	utils.InvalidateUserNotificationCache(n.rc, userID)
	utils.Success(ctx, nil)
}

// Clear removes all of the caller's notifications.
func (n *NotificationController) Clear(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	if err := n.db.Where("user_id = ?", userID).Delete(&models.Notification{}).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50042, "failed to clear notifications")
		return
	}

	utils.InvalidateUserNotificationCache(n.rc, userID)
	utils.Success(ctx, nil)
}
