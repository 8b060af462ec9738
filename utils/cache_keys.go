package utils

import "fmt"

// Cache keys are colon-delimited namespaced strings. A trailing wildcard
// selects all page variants of a listing for pattern deletion.

func AlbumImagesKey(albumID uint, suffix string) string {
	return fmt.Sprintf("album_images:%d:%s", albumID, suffix)
}

func AlbumImagesPattern(albumID uint) string {
	return fmt.Sprintf("album_images:%d:*", albumID)
}

func BlurImagesKey(albumID uint, suffix string) string {
	return fmt.Sprintf("blur_images:%d:%s", albumID, suffix)
}

func BlurImagesPattern(albumID uint) string {
	return fmt.Sprintf("blur_images:%d:*", albumID)
}

func DuplicateImagesKey(albumID uint, suffix string) string {
	return fmt.Sprintf("duplicate_images:%d:%s", albumID, suffix)
}

func DuplicateImagesPattern(albumID uint) string {
	return fmt.Sprintf("duplicate_images:%d:*", albumID)
}

func UserAlbumsKey(userID uint, suffix string) string {
	return fmt.Sprintf("user_albums:%d:%s", userID, suffix)
}

func UserAlbumsPattern(userID uint) string {
	return fmt.Sprintf("user_albums:%d:*", userID)
}

func UserSharedAlbumsKey(userID uint, suffix string) string {
	return fmt.Sprintf("user_shared_albums:%d:%s", userID, suffix)
}

func UserSharedAlbumsPattern(userID uint) string {
	return fmt.Sprintf("user_shared_albums:%d:*", userID)
}

func NotificationsKey(userID uint, page, limit int) string {
	return fmt.Sprintf("notifications:%d:p%d:l%d", userID, page, limit)
}

func NotificationsPattern(userID uint) string {
	return fmt.Sprintf("notifications:%d:*", userID)
}

func SuggestionsKey(albumID uint) string {
	return fmt.Sprintf("suggestions:%d", albumID)
}

// SuggestionsPattern matches only the single suggestions entry; a bare key is
// a valid SCAN pattern.
func SuggestionsPattern(albumID uint) string {
	return SuggestionsKey(albumID)
}
