package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/picshare/models"
)

// The report runners recompute their aggregate from the current source of
// truth when the job fires. A zero aggregate completes silently: no rows, no
// pushes.

func loadAlbum(ctx context.Context, db *gorm.DB, albumID uint) (models.Album, error) {
	var album models.Album
	if err := db.WithContext(ctx).First(&album, albumID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return album, Permanent(fmt.Errorf("album %d not found", albumID))
		}
		return album, err
	}
	return album, nil
}

func albumMembers(ctx context.Context, db *gorm.DB, albumID uint, role string) ([]models.User, error) {
	var users []models.User
	q := db.WithContext(ctx).
		Joins("JOIN album_members ON album_members.user_id = users.id").
		Where("album_members.album_id = ?", albumID)
	if role == models.RoleAdmin {
		q = q.Where("album_members.access_role = ?", models.RoleAdmin)
	} else {
		q = q.Where("album_members.access_role <> ?", models.RoleAdmin)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func plural(count int) string {
	if count == 1 {
		return ""
	}
	return "s"
}

// FaceReportRunner counts distinct recognized users who are not yet members
// of the album. Admins get the recognition report; every other member gets a
// "new images added" notice.
func FaceReportRunner(db *gorm.DB, matches *MatchStore, notifier *Notifier, logger *zap.SugaredLogger) ReportRunner {
	return func(ctx context.Context, albumID uint) error {
		album, err := loadAlbum(ctx, db, albumID)
		if err != nil {
			return err
		}

		found, err := matches.ListMatches(ctx, albumID)
		if err != nil {
			return err
		}

		var memberIDs []uint
		if err := db.WithContext(ctx).Model(&models.AlbumMember{}).
			Where("album_id = ?", albumID).Pluck("user_id", &memberIDs).Error; err != nil {
			return err
		}
		memberSet := make(map[uint]struct{}, len(memberIDs))
		for _, id := range memberIDs {
			memberSet[id] = struct{}{}
		}

		recognized := map[uint]struct{}{}
		for _, m := range found {
			if m.UserID == 0 {
				continue
			}
			if _, isMember := memberSet[m.UserID]; isMember {
				continue
			}
			recognized[m.UserID] = struct{}{}
		}
		count := len(recognized)
		if count == 0 {
			logger.Infof("no unshared recognized users for album %d", albumID)
			return nil
		}

		admins, err := albumMembers(ctx, db, albumID, models.RoleAdmin)
		if err != nil {
			return err
		}
		adminTitle := "Face Recognition Complete"
		adminBody := fmt.Sprintf("Face recognition identified %d user%s (not part of the album) in your album %q.",
			count, plural(count), album.AlbumTitle)
		for _, admin := range admins {
			if err := notifier.Send(ctx, admin, models.NotificationFaceReport, adminTitle, adminBody, album,
				map[string]string{"recognizedCount": strconv.Itoa(count)}); err != nil {
				return err
			}
		}

		viewers, err := albumMembers(ctx, db, albumID, models.RoleViewer)
		if err != nil {
			return err
		}
		viewerTitle := "New Images Added"
		viewerBody := fmt.Sprintf("New images have been added to the album %q.", album.AlbumTitle)
		for _, viewer := range viewers {
			if err := notifier.Send(ctx, viewer, models.NotificationNewImages, viewerTitle, viewerBody, album, nil); err != nil {
				return err
			}
		}
		return nil
	}
}

// BlurReportRunner counts images currently flagged blurred and notifies the
// album admins.
func BlurReportRunner(db *gorm.DB, notifier *Notifier, logger *zap.SugaredLogger) ReportRunner {
	return func(ctx context.Context, albumID uint) error {
		album, err := loadAlbum(ctx, db, albumID)
		if err != nil {
			return err
		}

		var count int64
		if err := db.WithContext(ctx).Model(&models.Image{}).
			Where("album_id = ? AND status = ?", albumID, models.ImageStatusBlur).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			logger.Infof("no blurred images in album %d", albumID)
			return nil
		}

		title := "Blur Check Results"
		body := fmt.Sprintf("Your album %q has %d blurred image%s.", album.AlbumTitle, count, plural(int(count)))

		admins, err := albumMembers(ctx, db, albumID, models.RoleAdmin)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			if err := notifier.Send(ctx, admin, models.NotificationBlurReport, title, body, album,
				map[string]string{"blurCount": strconv.FormatInt(count, 10)}); err != nil {
				return err
			}
		}
		return nil
	}
}

// DuplicateReportRunner counts images currently flagged duplicate and
// notifies the album admins.
func DuplicateReportRunner(db *gorm.DB, notifier *Notifier, logger *zap.SugaredLogger) ReportRunner {
	return func(ctx context.Context, albumID uint) error {
		album, err := loadAlbum(ctx, db, albumID)
		if err != nil {
			return err
		}

		var count int64
		if err := db.WithContext(ctx).Model(&models.Image{}).
			Where("album_id = ? AND duplicate = ?", albumID, true).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			logger.Infof("no duplicate images in album %d", albumID)
			return nil
		}

		title := "Duplicate Check Results"
		body := fmt.Sprintf("Your album %q has %d duplicate image%s.", album.AlbumTitle, count, plural(int(count)))

		admins, err := albumMembers(ctx, db, albumID, models.RoleAdmin)
		if err != nil {
			return err
		}
		for _, admin := range admins {
			if err := notifier.Send(ctx, admin, models.NotificationDuplicateReport, title, body, album,
				map[string]string{"duplicateCount": strconv.FormatInt(count, 10)}); err != nil {
				return err
			}
		}
		return nil
	}
}
