package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cppla/picshare/config"
)

// ObjectProber checks whether an uploaded object is visible in backing
// storage yet. "Not found" is a normal outcome, not an error; retry policy
// belongs to the caller.
type ObjectProber interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// PresignedUpload is handed to the client so it can PUT the object directly.
type PresignedUpload struct {
	UploadURL string `json:"uploadURL"`
	PublicURL string `json:"s3ImageUrl"`
	Key       string `json:"-"`
}

// StorageClient wraps the S3 API for availability probes, presigned upload
// URLs and object deletion.
type StorageClient struct {
	api     *s3.Client
	presign *s3.PresignClient
	bucket  string
	expiry  time.Duration
}

// NewStorageClient builds a client from the ambient AWS credential chain.
func NewStorageClient(ctx context.Context, cfg config.AppConfig) (*StorageClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	api := s3.NewFromConfig(awsCfg)
	return &StorageClient{
		api:     api,
		presign: s3.NewPresignClient(api),
		bucket:  cfg.AWSBucket,
		expiry:  time.Duration(cfg.UploadURLExpirySeconds) * time.Second,
	}, nil
}

// Exists probes object visibility via HeadObject. A missing object returns
// (false, nil); any other failure propagates.
func (c *StorageClient) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PresignImageUpload issues a presigned PUT URL for an album image.
func (c *StorageClient) PresignImageUpload(ctx context.Context, albumID, userID uint, fileName, fileType string) (PresignedUpload, error) {
	key := fmt.Sprintf("images/%d/%d/%d-%s", albumID, userID, time.Now().UnixMilli(), fileName)
	return c.presignPut(ctx, key, fileType)
}

// PresignAlbumCover issues a presigned PUT URL for an album cover image.
func (c *StorageClient) PresignAlbumCover(ctx context.Context, albumID uint, fileName, fileType string) (PresignedUpload, error) {
	key := fmt.Sprintf("album-covers/%d/%d-%s", albumID, time.Now().UnixMilli(), fileName)
	return c.presignPut(ctx, key, fileType)
}

// PresignProfileImage issues a presigned PUT URL for a user profile image.
func (c *StorageClient) PresignProfileImage(ctx context.Context, userID uint, fileName, fileType string) (PresignedUpload, error) {
	key := fmt.Sprintf("users/%d/%s", userID, fileName)
	return c.presignPut(ctx, key, fileType)
}

func (c *StorageClient) presignPut(ctx context.Context, key, contentType string) (PresignedUpload, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(c.expiry))
	if err != nil {
		return PresignedUpload{}, err
	}
	return PresignedUpload{
		UploadURL: req.URL,
		PublicURL: fmt.Sprintf("https://%s.s3.amazonaws.com/%s", c.bucket, key),
		Key:       key,
	}, nil
}

// DeleteObject removes an object from the bucket.
func (c *StorageClient) DeleteObject(ctx context.Context, key string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	return err
}
