package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/picshare/models"
	"github.com/cppla/picshare/services"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Album{},
		&models.AlbumMember{},
		&models.Image{},
		&models.Notification{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type pushCall struct {
	token string
	title string
	data  map[string]string
}

type fakePusher struct {
	sent []pushCall
	err  error
}

func (p *fakePusher) Send(ctx context.Context, token, title, body string, data map[string]string) (string, error) {
	p.sent = append(p.sent, pushCall{token: token, title: title, data: data})
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func TestSendPersistsNotificationAndPushes(t *testing.T) {
	db := newTestDB(t)
	_, rc := newTestRedis(t)
	pusher := &fakePusher{}
	n := services.NewNotifier(db, rc, pusher, zap.NewNop().Sugar())

	user := models.User{Email: "a@example.com", FCMToken: "tok-1"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	album := models.Album{UserID: user.ID, AlbumTitle: "Holiday"}
	if err := db.Create(&album).Error; err != nil {
		t.Fatalf("create album: %v", err)
	}

	err := n.Send(context.Background(), user, models.NotificationBlurReport,
		"Blur Check Results", "Your album has 2 blurred images.", album,
		map[string]string{"blurCount": "2"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var record models.Notification
	if err := db.Where("user_id = ?", user.ID).First(&record).Error; err != nil {
		t.Fatalf("notification row not persisted: %v", err)
	}
	if record.Title != "Blur Check Results" {
		t.Fatalf("unexpected title %q", record.Title)
	}
	if record.NotificationID == "" {
		t.Fatal("expected a notification id")
	}

	var data map[string]string
	if err := json.Unmarshal([]byte(record.Data), &data); err != nil {
		t.Fatalf("decode data payload: %v", err)
	}
	if data["type"] != models.NotificationBlurReport || data["blurCount"] != "2" {
		t.Fatalf("unexpected data payload %v", data)
	}
	if data["albumTitle"] != "Holiday" {
		t.Fatalf("expected album title in payload, got %v", data)
	}

	if len(pusher.sent) != 1 || pusher.sent[0].token != "tok-1" {
		t.Fatalf("expected one push to tok-1, got %+v", pusher.sent)
	}
}

func TestSendSkipsPushWithoutToken(t *testing.T) {
	db := newTestDB(t)
	_, rc := newTestRedis(t)
	pusher := &fakePusher{}
	n := services.NewNotifier(db, rc, pusher, zap.NewNop().Sugar())

	user := models.User{Email: "b@example.com"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := n.Send(context.Background(), user, models.NotificationNewImages,
		"New Images Added", "body", models.Album{}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var count int64
	db.Model(&models.Notification{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected persisted row even without push, got %d", count)
	}
	if len(pusher.sent) != 0 {
		t.Fatalf("expected no push without a device token, got %+v", pusher.sent)
	}
}

func TestSendSwallowsPushFailure(t *testing.T) {
	db := newTestDB(t)
	_, rc := newTestRedis(t)
	pusher := &fakePusher{err: errors.New("fcm unavailable")}
	n := services.NewNotifier(db, rc, pusher, zap.NewNop().Sugar())

	user := models.User{Email: "c@example.com", FCMToken: "tok-3"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	err := n.Send(context.Background(), user, models.NotificationFaceReport,
		"Face Recognition Complete", "body", models.Album{}, nil)
	if err != nil {
		t.Fatalf("push failure must not fail Send, got %v", err)
	}

	var count int64
	db.Model(&models.Notification{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected persisted row despite push failure, got %d", count)
	}
}

func TestSendWithNilPusher(t *testing.T) {
	db := newTestDB(t)
	_, rc := newTestRedis(t)
	n := services.NewNotifier(db, rc, nil, zap.NewNop().Sugar())

	user := models.User{Email: "d@example.com", FCMToken: "tok-4"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	if err := n.Send(context.Background(), user, models.NotificationAlbumShared,
		"Album Shared With You", "body", models.Album{}, nil); err != nil {
		t.Fatalf("Send with nil pusher failed: %v", err)
	}
}
