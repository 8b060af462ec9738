package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/picshare/middleware"
	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/services"
	"github.com/cppla/picshare/utils"
)

// AlbumController manages album CRUD, sharing and access suggestions.
type AlbumController struct {
	db       *gorm.DB
	rc       *redis.Client
	storage  *services.StorageClient
	notifier *services.Notifier
	matches  *services.MatchStore
}

// NewAlbumController creates a new AlbumController instance.
func NewAlbumController(db *gorm.DB, rc *redis.Client, storage *services.StorageClient, notifier *services.Notifier, matches *services.MatchStore) *AlbumController {
	return &AlbumController{db: db, rc: rc, storage: storage, notifier: notifier, matches: matches}
}

func parseUintParam(ctx *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		utils.Error(ctx, http.StatusBadRequest, 40020, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return uint(v), true
}

func pageSuffix(page, limit int) string {
	return fmt.Sprintf("p%d:l%d", page, limit)
}

func pagination(ctx *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(ctx.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

// accessRole returns the caller's role on the album, or "" when not a member.
func (a *AlbumController) accessRole(albumID, userID uint) (string, error) {
	var member models.AlbumMember
	err := a.db.Where("album_id = ? AND user_id = ?", albumID, userID).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return member.AccessRole, nil
}

func (a *AlbumController) requireAdmin(ctx *gin.Context, albumID uint) bool {
	role, err := a.accessRole(albumID, middleware.CurrentUserID(ctx))
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "database error")
		return false
	}
	if role != models.RoleAdmin {
		utils.Error(ctx, http.StatusForbidden, 40320, "admin access required")
		return false
	}
	return true
}

// Create makes a new album owned by the caller.
func (a *AlbumController) Create(ctx *gin.Context) {
	var req struct {
		AlbumTitle string `json:"album_title" binding:"required,max=200"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40021, "invalid request payload")
		return
	}

	userID := middleware.CurrentUserID(ctx)
	album := models.Album{
		UserID:     userID,
		AlbumTitle: utils.Sanitize(strings.TrimSpace(req.AlbumTitle)),
	}
	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&album).Error; err != nil {
			return err
		}
		member := models.AlbumMember{AlbumID: album.ID, UserID: userID, AccessRole: models.RoleAdmin}
		return tx.Create(&member).Error
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50021, "failed to create album")
		return
	}

	utils.InvalidateUserAlbumCaches(a.rc, []uint{userID})
	utils.Success(ctx, album)
}

// List returns albums the caller administers, paginated and cached.
func (a *AlbumController) List(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page, limit := pagination(ctx)

	key := utils.UserAlbumsKey(userID, pageSuffix(page, limit))
	if cached, ok := utils.CacheGetBytes(a.rc, key); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	var albums []models.Album
	err := a.db.
		Joins("JOIN album_members ON album_members.album_id = albums.id").
		Where("album_members.user_id = ? AND album_members.access_role = ?", userID, models.RoleAdmin).
		Order("albums.created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&albums).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50022, "failed to list albums")
		return
	}

	utils.RespondAndCache(ctx, a.rc, key, gin.H{"albums": albums, "page": page, "limit": limit}, 0)
}

// ListShared returns albums shared with the caller as a viewer.
func (a *AlbumController) ListShared(ctx *gin.Context) {
	userID := middleware.CurrentUserID(ctx)
	page, limit := pagination(ctx)

	key := utils.UserSharedAlbumsKey(userID, pageSuffix(page, limit))
	if cached, ok := utils.CacheGetBytes(a.rc, key); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	var albums []models.Album
	err := a.db.
		Joins("JOIN album_members ON album_members.album_id = albums.id").
		Where("album_members.user_id = ? AND album_members.access_role <> ?", userID, models.RoleAdmin).
		Order("albums.created_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&albums).Error
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50023, "failed to list shared albums")
		return
	}

	utils.RespondAndCache(ctx, a.rc, key, gin.H{"albums": albums, "page": page, "limit": limit}, 0)
}

// Update renames an album. Admin only.
func (a *AlbumController) Update(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}

	var req struct {
		AlbumTitle string `json:"album_title" binding:"required,max=200"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
		return
	}

	if err := a.db.Model(&models.Album{}).Where("id = ?", albumID).
		Update("album_title", utils.Sanitize(strings.TrimSpace(req.AlbumTitle))).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50024, "failed to update album")
		return
	}

	a.invalidateMemberCaches(albumID)
	utils.Success(ctx, nil)
}

// Delete removes an album, its memberships and its image records. Admin only.
func (a *AlbumController) Delete(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}

	memberIDs := a.memberIDs(albumID)
	err := a.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", albumID).Delete(&models.Image{}).Error; err != nil {
			return err
		}
		if err := tx.Where("album_id = ?", albumID).Delete(&models.AlbumMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Album{}, albumID).Error
	})
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50025, "failed to delete album")
		return
	}

	utils.InvalidateAlbumImageCaches(a.rc, albumID)
	utils.InvalidateUserAlbumCaches(a.rc, memberIDs)
	utils.Success(ctx, nil)
}

// CoverPresign issues an upload URL for the album cover image. Admin only.
func (a *AlbumController) CoverPresign(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}

	var req struct {
		FileName string `json:"fileName" binding:"required"`
		FileType string `json:"fileType" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40023, "invalid request payload")
		return
	}

	upload, err := a.storage.PresignAlbumCover(ctx.Request.Context(), albumID, req.FileName, req.FileType)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50026, "failed to generate upload URL")
		return
	}
	if err := a.db.Model(&models.Album{}).Where("id = ?", albumID).
		Update("cover_image_url", upload.PublicURL).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50027, "failed to store cover URL")
		return
	}

	a.invalidateMemberCaches(albumID)
	utils.Success(ctx, upload)
}

// Share grants viewer access to a list of users and notifies each of them.
// Admin only. Already-member users are skipped silently.
func (a *AlbumController) Share(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}

	var req struct {
		UserIDs []uint `json:"user_ids" binding:"required,min=1"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40024, "invalid request payload")
		return
	}

	var album models.Album
	if err := a.db.First(&album, albumID).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40420, "album not found")
		return
	}

	added := make([]uint, 0, len(req.UserIDs))
	for _, uid := range utils.UniqueUint(req.UserIDs) {
		role, err := a.accessRole(albumID, uid)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50020, "database error")
			return
		}
		if role != "" {
			continue
		}
		member := models.AlbumMember{AlbumID: albumID, UserID: uid, AccessRole: models.RoleViewer}
		if err := a.db.Create(&member).Error; err != nil {
			utils.Sugar.Errorf("failed to add user %d to album %d: %v", uid, albumID, err)
			continue
		}
		added = append(added, uid)
	}

	for _, uid := range added {
		var user models.User
		if err := a.db.First(&user, uid).Error; err != nil {
			continue
		}
		err := a.notifier.Send(ctx.Request.Context(), user,
			models.NotificationAlbumShared,
			"Album Shared With You",
			fmt.Sprintf("%q has been shared with you", album.AlbumTitle),
			album, nil)
		if err != nil {
			utils.Sugar.Errorf("share notification for user %d failed: %v", uid, err)
		}
	}

	utils.InvalidateUserAlbumCaches(a.rc, added)
	utils.InvalidateByPattern(a.rc, utils.SuggestionsPattern(albumID))
	utils.Success(ctx, gin.H{"added": added})
}

// Unshare revokes a viewer's access. Admin only; the owner cannot be removed.
func (a *AlbumController) Unshare(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}
	targetID, ok := parseUintParam(ctx, "userId")
	if !ok {
		return
	}

	res := a.db.Where("album_id = ? AND user_id = ? AND access_role <> ?",
		albumID, targetID, models.RoleAdmin).Delete(&models.AlbumMember{})
	if res.Error != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50028, "failed to revoke access")
		return
	}
	if res.RowsAffected == 0 {
		utils.Error(ctx, http.StatusNotFound, 40421, "membership not found")
		return
	}

	utils.InvalidateUserAlbumCaches(a.rc, []uint{targetID})
	utils.Success(ctx, nil)
}

// Suggestions lists users recognized in the album who are not yet members,
// ordered by match confidence. Cached until the next share or reconciliation.
func (a *AlbumController) Suggestions(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !a.requireAdmin(ctx, albumID) {
		return
	}

	key := utils.SuggestionsKey(albumID)
	if cached, ok := utils.CacheGetBytes(a.rc, key); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	matches, err := a.matches.ListMatches(ctx.Request.Context(), albumID)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50029, "failed to read matches")
		return
	}

	members := map[uint]bool{}
	for _, id := range a.memberIDs(albumID) {
		members[id] = true
	}

	type suggestion struct {
		User      models.User `json:"user"`
		Distance  float64     `json:"distance"`
		PhotoURLs []string    `json:"photo_urls"`
	}
	suggestions := make([]suggestion, 0, len(matches))
	for _, m := range matches {
		if members[m.UserID] {
			continue
		}
		var user models.User
		if err := a.db.First(&user, m.UserID).Error; err != nil {
			continue
		}
		suggestions = append(suggestions, suggestion{User: user, Distance: m.Distance, PhotoURLs: m.PhotoURLs})
	}

	utils.RespondAndCache(ctx, a.rc, key, gin.H{"suggestions": suggestions}, 0)
}

func (a *AlbumController) memberIDs(albumID uint) []uint {
	var ids []uint
	if err := a.db.Model(&models.AlbumMember{}).
		Where("album_id = ?", albumID).Pluck("user_id", &ids).Error; err != nil {
		utils.Sugar.Errorf("failed to load members of album %d: %v", albumID, err)
	}
	return ids
}

func (a *AlbumController) invalidateMemberCaches(albumID uint) {
	utils.InvalidateUserAlbumCaches(a.rc, a.memberIDs(albumID))
}
