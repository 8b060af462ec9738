package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/utils"
)

// Pusher delivers a push message to one device token. A failed delivery is a
// normal outcome for the pipeline, never a job failure.
type Pusher interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) (string, error)
}

// FCMPusher sends push notifications through Firebase Cloud Messaging.
type FCMPusher struct {
	client *messaging.Client
}

// NewFCMPusher initializes the Firebase app from a service account file, or
// application default credentials when the path is empty.
func NewFCMPusher(ctx context.Context, credentialsFile string) (*FCMPusher, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return &FCMPusher{client: client}, nil
}

// Send delivers one message and returns the FCM message id.
func (p *FCMPusher) Send(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	msg := &messaging.Message{
		Notification: &messaging.Notification{Title: title, Body: body},
		Data:         data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
		Token:        token,
	}
	return p.client.Send(ctx, msg)
}

// Notifier persists notification records and attempts best-effort push
// delivery to the recipient's registered device.
type Notifier struct {
	db     *gorm.DB
	rc     *redis.Client
	push   Pusher
	logger *zap.SugaredLogger
}

// NewNotifier builds a Notifier. push may be nil when no delivery gateway is
// configured; records are still persisted.
func NewNotifier(db *gorm.DB, rc *redis.Client, push Pusher, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{db: db, rc: rc, push: push, logger: logger}
}

// Send writes a Notification row for the recipient and then attempts push
// delivery if a device token is registered. Persist failures are returned to
// the caller (and so participate in job-level retry); push failures and
// missing tokens are logged and swallowed.
func (n *Notifier) Send(ctx context.Context, recipient models.User, typ, title, body string, album models.Album, extra map[string]string) error {
	notificationID := uuid.NewString()
	now := time.Now().UTC()

	data := map[string]string{
		"type":           typ,
		"notificationId": notificationID,
		"receiverId":     strconv.FormatUint(uint64(recipient.ID), 10),
		"albumId":        strconv.FormatUint(uint64(album.ID), 10),
		"albumTitle":     album.AlbumTitle,
		"albumCover":     album.CoverImageURL,
		"createdAt":      now.Format(time.RFC3339),
	}
	for k, v := range extra {
		data[k] = v
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}

	record := models.Notification{
		NotificationID: notificationID,
		UserID:         recipient.ID,
		Title:          title,
		Body:           body,
		Data:           string(payload),
		CreatedAt:      now,
	}
	if err := n.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	utils.InvalidateUserNotificationCache(n.rc, recipient.ID)

	if recipient.FCMToken == "" {
		n.logger.Debugf("user %d has no device token, skipping push for %s", recipient.ID, typ)
		return nil
	}
	if n.push == nil {
		return nil
	}
	if id, err := n.push.Send(ctx, recipient.FCMToken, title, body, data); err != nil {
		n.logger.Warnf("push delivery to user %d failed: %v", recipient.ID, err)
	} else {
		n.logger.Debugf("push delivered to user %d (message %s)", recipient.ID, id)
	}
	return nil
}
