package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/cppla/picshare/middleware"
	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/services"
	"github.com/cppla/picshare/utils"
)

// ImageController manages image uploads, listings and classification flags.
type ImageController struct {
	db      *gorm.DB
	rc      *redis.Client
	storage *services.StorageClient
	queue   *services.BatchQueue
	albums  *AlbumController
}

// NewImageController creates a new ImageController instance.
func NewImageController(db *gorm.DB, rc *redis.Client, storage *services.StorageClient, queue *services.BatchQueue, albums *AlbumController) *ImageController {
	return &ImageController{db: db, rc: rc, storage: storage, queue: queue, albums: albums}
}

// Presign issues presigned upload URLs for a batch of images and hands the
// batch to the classification pipeline. Admin only. The pipeline runs
// fire-and-forget: the only failure the client can observe here is a full or
// closed queue.
func (i *ImageController) Presign(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !i.albums.requireAdmin(ctx, albumID) {
		return
	}

	var req struct {
		Files []struct {
			FileName string `json:"fileName" binding:"required"`
			FileType string `json:"fileType" binding:"required"`
		} `json:"files" binding:"required,min=1,max=50"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}

	userID := middleware.CurrentUserID(ctx)
	uploads := make([]services.PresignedUpload, 0, len(req.Files))
	records := make([]services.IngestRecord, 0, len(req.Files))
	for _, f := range req.Files {
		upload, err := i.storage.PresignImageUpload(ctx.Request.Context(), albumID, userID, f.FileName, f.FileType)
		if err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50030, "failed to generate upload URL")
			return
		}
		image := models.Image{
			AlbumID:  albumID,
			UserID:   userID,
			FileName: f.FileName,
			S3Key:    upload.Key,
			S3URL:    upload.PublicURL,
			Status:   models.ImageStatusOK,
		}
		if err := i.db.Create(&image).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50031, "failed to record image")
			return
		}
		uploads = append(uploads, upload)
		records = append(records, services.IngestRecord{
			S3Key:    upload.Key,
			AlbumID:  albumID,
			UserID:   userID,
			FileName: f.FileName,
		})
	}

	if err := i.queue.Submit(records); err != nil {
		utils.Error(ctx, http.StatusServiceUnavailable, 50332, "classification queue unavailable")
		return
	}

	utils.InvalidateAlbumImageCaches(i.rc, albumID)
	utils.Success(ctx, gin.H{"uploads": uploads})
}

// List returns an album's non-blurred images, paginated and cached.
func (i *ImageController) List(ctx *gin.Context) {
	i.listFiltered(ctx, "ok")
}

// ListBlur returns the images the blur classifier has flagged.
func (i *ImageController) ListBlur(ctx *gin.Context) {
	i.listFiltered(ctx, "blur")
}

// ListDuplicates returns the images the duplicate classifier has flagged.
func (i *ImageController) ListDuplicates(ctx *gin.Context) {
	i.listFiltered(ctx, "duplicate")
}

func (i *ImageController) listFiltered(ctx *gin.Context, filter string) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	role, err := i.albums.accessRole(albumID, middleware.CurrentUserID(ctx))
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50020, "database error")
		return
	}
	if role == "" {
		utils.Error(ctx, http.StatusForbidden, 40330, "album access required")
		return
	}

	page, limit := pagination(ctx)
	var key string
	query := i.db.Model(&models.Image{}).Where("album_id = ?", albumID)
	switch filter {
	case "blur":
		key = utils.BlurImagesKey(albumID, pageSuffix(page, limit))
		query = query.Where("status = ?", models.ImageStatusBlur)
	case "duplicate":
		key = utils.DuplicateImagesKey(albumID, pageSuffix(page, limit))
		query = query.Where("duplicate = ?", true)
	default:
		key = utils.AlbumImagesKey(albumID, pageSuffix(page, limit))
		query = query.Where("status = ?", models.ImageStatusOK)
	}

	if cached, ok := utils.CacheGetBytes(i.rc, key); ok {
		ctx.Data(http.StatusOK, "application/json; charset=utf-8", cached)
		return
	}

	var images []models.Image
	if err := query.Order("uploaded_at DESC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&images).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50033, "failed to list images")
		return
	}

	utils.RespondAndCache(ctx, i.rc, key, gin.H{"images": images, "page": page, "limit": limit}, 0)
}

// Delete removes an image record and its stored object. Admin only.
func (i *ImageController) Delete(ctx *gin.Context) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	imageID, ok := parseUintParam(ctx, "imageId")
	if !ok {
		return
	}
	if !i.albums.requireAdmin(ctx, albumID) {
		return
	}

	var image models.Image
	if err := i.db.Where("id = ? AND album_id = ?", imageID, albumID).First(&image).Error; err != nil {
		utils.Error(ctx, http.StatusNotFound, 40430, "image not found")
		return
	}

	if err := i.storage.DeleteObject(ctx.Request.Context(), image.S3Key); err != nil {
		utils.Sugar.Errorf("failed to delete object %s: %v", image.S3Key, err)
	}
	if err := i.db.Delete(&image).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50034, "failed to delete image")
		return
	}

	utils.InvalidateAlbumImageCaches(i.rc, albumID)
	utils.Success(ctx, nil)
}

// UnflagBlur clears the blur flag on a set of images, returning them to the
// album's main listing. Admin only.
func (i *ImageController) UnflagBlur(ctx *gin.Context) {
	i.unflag(ctx, "blur")
}

// UnflagDuplicates clears the duplicate flag on a set of images. Admin only.
func (i *ImageController) UnflagDuplicates(ctx *gin.Context) {
	i.unflag(ctx, "duplicate")
}

func (i *ImageController) unflag(ctx *gin.Context, filter string) {
	albumID, ok := parseUintParam(ctx, "albumId")
	if !ok {
		return
	}
	if !i.albums.requireAdmin(ctx, albumID) {
		return
	}

	var req struct {
		ImageIDs []uint `json:"image_ids" binding:"required,min=1"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40031, "invalid request payload")
		return
	}

	query := i.db.Model(&models.Image{}).
		Where("album_id = ? AND id IN ?", albumID, utils.UniqueUint(req.ImageIDs))
	var res *gorm.DB
	if filter == "blur" {
		res = query.Where("status = ?", models.ImageStatusBlur).
			Update("status", models.ImageStatusOK)
	} else {
		res = query.Where("duplicate = ?", true).
			Update("duplicate", false)
	}
	if res.Error != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50035, "failed to update images")
		return
	}

	utils.InvalidateAlbumImageCaches(i.rc, albumID)
	utils.Success(ctx, gin.H{"updated": res.RowsAffected})
}
