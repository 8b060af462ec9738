package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"

	"github.com/cppla/picshare/config"
)

// RecognitionMatch is one per-user result from the recognition classifier.
type RecognitionMatch struct {
	AlbumID   uint
	UserID    uint
	Distance  float64
	PhotoURLs []string
}

// Recognizer invokes the face recognition classifier synchronously.
type Recognizer interface {
	RecognizeFaces(ctx context.Context, records []IngestRecord) ([]RecognitionMatch, error)
}

// BlurDetector invokes the blur classifier and returns flagged counts per album.
type BlurDetector interface {
	DetectBlur(ctx context.Context, records []IngestRecord) (map[uint]int, error)
}

// DuplicateDetector invokes the duplicate classifier and returns the album's
// duplicate total.
type DuplicateDetector interface {
	DetectDuplicates(ctx context.Context, records []IngestRecord) (albumID uint, total int, err error)
}

// lambdaInvoker is the slice of the Lambda API the classifier needs.
type lambdaInvoker interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaClassifier invokes the three external classification functions.
type LambdaClassifier struct {
	api                    lambdaInvoker
	bucket                 string
	recognitionFn          string
	blurFn                 string
	duplicateFn            string
	recognitionMaxAttempts int
	retryBackoff           time.Duration
	logger                 *zap.SugaredLogger
}

// NewLambdaClassifier builds a classifier from the ambient AWS credential chain.
func NewLambdaClassifier(ctx context.Context, cfg config.AppConfig, logger *zap.SugaredLogger) (*LambdaClassifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	return &LambdaClassifier{
		api:                    lambda.NewFromConfig(awsCfg),
		bucket:                 cfg.AWSBucket,
		recognitionFn:          cfg.FaceRecognitionFunction,
		blurFn:                 cfg.BlurDetectionFunction,
		duplicateFn:            cfg.DuplicateDetectFunction,
		recognitionMaxAttempts: cfg.RecognitionMaxAttempts,
		retryBackoff:           2 * time.Second,
		logger:                 logger,
	}, nil
}

// classifierEvent mirrors the S3 event shape the classification functions consume.
type classifierEvent struct {
	Records []classifierRecord `json:"Records"`
}

type classifierRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
	Metadata struct {
		AlbumID  uint   `json:"albumId"`
		UserID   uint   `json:"userId"`
		FileName string `json:"fileName"`
	} `json:"metadata"`
}

func (c *LambdaClassifier) buildEvent(records []IngestRecord) classifierEvent {
	ev := classifierEvent{Records: make([]classifierRecord, 0, len(records))}
	for _, r := range records {
		var cr classifierRecord
		cr.S3.Bucket.Name = c.bucket
		cr.S3.Object.Key = r.S3Key
		cr.Metadata.AlbumID = r.AlbumID
		cr.Metadata.UserID = r.UserID
		cr.Metadata.FileName = r.FileName
		ev.Records = append(ev.Records, cr)
	}
	return ev
}

func (c *LambdaClassifier) invoke(ctx context.Context, fn string, records []IngestRecord) ([]byte, error) {
	payload, err := json.Marshal(c.buildEvent(records))
	if err != nil {
		return nil, err
	}
	out, err := c.api.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: aws.String(fn),
		Payload:      payload,
	})
	if err != nil {
		return nil, err
	}
	if out.FunctionError != nil {
		return nil, fmt.Errorf("classifier %s returned function error: %s", fn, *out.FunctionError)
	}
	if len(out.Payload) == 0 {
		return nil, fmt.Errorf("classifier %s returned empty payload", fn)
	}
	return out.Payload, nil
}

// RecognizeFaces calls the recognition function synchronously, retrying
// transient invocation failures with exponential backoff up to the configured
// cap. On final failure the error propagates to the batch job. A response
// that arrives but cannot be parsed is not a transient failure: it is
// returned immediately as ErrMalformedResponse without consuming attempts, so
// the caller can treat it as a logged no-op.
func (c *LambdaClassifier) RecognizeFaces(ctx context.Context, records []IngestRecord) ([]RecognitionMatch, error) {
	var lastErr error
	for attempt := 1; attempt <= c.recognitionMaxAttempts; attempt++ {
		payload, err := c.invoke(ctx, c.recognitionFn, records)
		if err == nil {
			matches, parseErr := parseRecognitionPayload(payload)
			if parseErr == nil {
				return matches, nil
			}
			return nil, parseErr
		}
		lastErr = err
		if attempt < c.recognitionMaxAttempts {
			delay := backoffDelay(c.retryBackoff, attempt)
			c.logger.Warnf("recognition invocation failed (attempt %d/%d), retrying in %s: %v",
				attempt, c.recognitionMaxAttempts, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// DetectBlur calls the blur function and decodes the per-album flagged counts.
func (c *LambdaClassifier) DetectBlur(ctx context.Context, records []IngestRecord) (map[uint]int, error) {
	payload, err := c.invoke(ctx, c.blurFn, records)
	if err != nil {
		return nil, err
	}
	return parseBlurPayload(payload)
}

// DetectDuplicates calls the duplicate function and decodes the album total.
func (c *LambdaClassifier) DetectDuplicates(ctx context.Context, records []IngestRecord) (uint, int, error) {
	payload, err := c.invoke(ctx, c.duplicateFn, records)
	if err != nil {
		return 0, 0, err
	}
	return parseDuplicatePayload(payload)
}

// envelope is the API-gateway-style wrapper all three functions respond with.
type envelope struct {
	Body string `json:"body"`
}

func unwrapEnvelope(payload []byte) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.Body == "" {
		return nil, fmt.Errorf("%w: missing body", ErrMalformedResponse)
	}
	return []byte(env.Body), nil
}

type recognitionResult struct {
	AlbumID   json.Number `json:"album_id"`
	Key       string      `json:"key"`
	UserID    json.Number `json:"user_id"`
	Distance  float64     `json:"distance"`
	PhotoURLs []string    `json:"photo_urls"`
}

// parseRecognitionPayload accepts either a bare array of results or an object
// with a "results" field. Individual results with no resolvable album or user
// are skipped, not fatal.
func parseRecognitionPayload(payload []byte) ([]RecognitionMatch, error) {
	body, err := unwrapEnvelope(payload)
	if err != nil {
		return nil, err
	}

	var results []recognitionResult
	if err := json.Unmarshal(body, &results); err != nil {
		var wrapped struct {
			Results []recognitionResult `json:"results"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		results = wrapped.Results
	}

	matches := make([]RecognitionMatch, 0, len(results))
	for _, r := range results {
		albumID := numberToUint(r.AlbumID)
		if albumID == 0 {
			albumID = albumIDFromKey(r.Key)
		}
		matches = append(matches, RecognitionMatch{
			AlbumID:   albumID,
			UserID:    numberToUint(r.UserID),
			Distance:  r.Distance,
			PhotoURLs: r.PhotoURLs,
		})
	}
	return matches, nil
}

func parseBlurPayload(payload []byte) (map[uint]int, error) {
	body, err := unwrapEnvelope(payload)
	if err != nil {
		return nil, err
	}
	var raw map[string]int
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	counts := make(map[uint]int, len(raw))
	for albumStr, count := range raw {
		id, err := strconv.ParseUint(albumStr, 10, 64)
		if err != nil {
			continue
		}
		counts[uint(id)] = count
	}
	return counts, nil
}

func parseDuplicatePayload(payload []byte) (uint, int, error) {
	body, err := unwrapEnvelope(payload)
	if err != nil {
		return 0, 0, err
	}
	var raw struct {
		AlbumID         json.Number `json:"album_id"`
		TotalDuplicates json.Number `json:"total_duplicates"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	total, _ := raw.TotalDuplicates.Int64()
	return numberToUint(raw.AlbumID), int(total), nil
}

func numberToUint(n json.Number) uint {
	if n == "" {
		return 0
	}
	i, err := n.Int64()
	if err != nil || i < 0 {
		return 0
	}
	return uint(i)
}

// Object keys look like images/{albumId}/{userId}/{ts}-{name}; the album id
// can be recovered from the key when the result omits it.
func albumIDFromKey(key string) uint {
	parts := strings.Split(key, "/")
	if len(parts) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}
