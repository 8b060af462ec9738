package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"gorm.io/gorm"

	"github.com/cppla/picshare/config"
	"github.com/cppla/picshare/middleware"
	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/services"
	"github.com/cppla/picshare/utils"
)

const tokenDuration = 72 * time.Hour

// AuthController manages registration, login and device token updates.
type AuthController struct {
	db      *gorm.DB
	rc      *redis.Client
	storage *services.StorageClient
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB, rc *redis.Client, storage *services.StorageClient) *AuthController {
	return &AuthController{db: db, rc: rc, storage: storage}
}

// Register creates an email/password account.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		Password    string `json:"password" binding:"required,min=8"`
		DisplayName string `json:"display_name"`
		FCMToken    string `json:"fcm_token"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	var existing models.User
	if err := a.db.Where("email = ?", email).First(&existing).Error; err == nil {
		utils.Error(ctx, http.StatusConflict, 40910, "email already registered")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.Error(ctx, http.StatusInternalServerError, 50010, "database error")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50011, "failed to hash password")
		return
	}

	user := models.User{
		Email:        email,
		DisplayName:  utils.Sanitize(strings.TrimSpace(req.DisplayName)),
		PasswordHash: hash,
		SignupMethod: "email",
		FCMToken:     req.FCMToken,
	}
	if err := a.db.Create(&user).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to create user")
		return
	}

	token, err := utils.GenerateToken(user.ID, user.Email, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": user})
}

// Login authenticates with email and password.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
		FCMToken string `json:"fcm_token"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40011, "invalid request payload")
		return
	}

	var user models.User
	if err := a.db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error; err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "invalid credentials")
		return
	}
	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "invalid credentials")
		return
	}

	now := time.Now()
	updates := map[string]interface{}{"last_login_at": &now}
	if req.FCMToken != "" {
		updates["fcm_token"] = req.FCMToken
	}
	if err := a.db.Model(&user).Updates(updates).Error; err != nil {
		utils.Sugar.Warnf("failed to record login for user %d: %v", user.ID, err)
	}

	token, err := utils.GenerateToken(user.ID, user.Email, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": user})
}

func googleOAuthConfig() *oauth2.Config {
	cfg := config.Get()
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.OAuthRedirectBase + "/api/auth/google/callback",
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     google.Endpoint,
	}
}

// GoogleLogin exchanges an authorization code for the Google profile and
// creates or signs in the matching account.
func (a *AuthController) GoogleLogin(ctx *gin.Context) {
	var req struct {
		Code     string `json:"code" binding:"required"`
		FCMToken string `json:"fcm_token"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "invalid request payload")
		return
	}

	oc := googleOAuthConfig()
	tok, err := oc.Exchange(context.Background(), req.Code)
	if err != nil {
		utils.Error(ctx, http.StatusUnauthorized, 40111, "google code exchange failed")
		return
	}

	client := oc.Client(context.Background(), tok)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		utils.Error(ctx, http.StatusBadGateway, 50210, "failed to fetch google profile")
		return
	}
	defer resp.Body.Close()

	var profile struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil || profile.Email == "" {
		utils.Error(ctx, http.StatusBadGateway, 50211, "invalid google profile response")
		return
	}

	var user models.User
	err = a.db.Where("email = ?", strings.ToLower(profile.Email)).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Email:         strings.ToLower(profile.Email),
			DisplayName:   utils.Sanitize(profile.Name),
			SignupMethod:  "google",
			GoogleID:      profile.ID,
			PhotoURL:      profile.Picture,
			EmailVerified: true,
			FCMToken:      req.FCMToken,
		}
		if err := a.db.Create(&user).Error; err != nil {
			utils.Error(ctx, http.StatusInternalServerError, 50012, "failed to create user")
			return
		}
	case err != nil:
		utils.Error(ctx, http.StatusInternalServerError, 50010, "database error")
		return
	default:
		now := time.Now()
		updates := map[string]interface{}{"last_login_at": &now, "google_id": profile.ID}
		if req.FCMToken != "" {
			updates["fcm_token"] = req.FCMToken
		}
		if err := a.db.Model(&user).Updates(updates).Error; err != nil {
			utils.Sugar.Warnf("failed to record google login for user %d: %v", user.ID, err)
		}
	}

	token, err := utils.GenerateToken(user.ID, user.Email, tokenDuration)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50013, "failed to issue token")
		return
	}
	utils.Success(ctx, gin.H{"token": token, "user": user})
}

// UpdateFCMToken registers or replaces the caller's push device token.
func (a *AuthController) UpdateFCMToken(ctx *gin.Context) {
	var req struct {
		FCMToken string `json:"fcm_token" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40013, "invalid request payload")
		return
	}
	userID := middleware.CurrentUserID(ctx)
	if err := a.db.Model(&models.User{}).Where("id = ?", userID).
		Update("fcm_token", req.FCMToken).Error; err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50014, "failed to update device token")
		return
	}
	utils.Success(ctx, nil)
}

// ProfileImagePresign issues a presigned upload URL for a profile image.
func (a *AuthController) ProfileImagePresign(ctx *gin.Context) {
	var req struct {
		FileName string `json:"fileName" binding:"required"`
		FileType string `json:"fileType" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40014, "invalid request payload")
		return
	}
	userID := middleware.CurrentUserID(ctx)
	upload, err := a.storage.PresignProfileImage(ctx.Request.Context(), userID, req.FileName, req.FileType)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50015, "failed to generate upload URL")
		return
	}
	if err := a.db.Model(&models.User{}).Where("id = ?", userID).
		Update("photo_url", upload.PublicURL).Error; err != nil {
		utils.Sugar.Warnf("failed to store profile photo url for user %d: %v", userID, err)
	}
	utils.Success(ctx, upload)
}
