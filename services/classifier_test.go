package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"go.uber.org/zap"
)

func envelopePayload(t *testing.T, body interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	payload, err := json.Marshal(map[string]string{"body": string(b)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return payload
}

func TestParseRecognitionPayloadBareArray(t *testing.T) {
	payload := envelopePayload(t, []map[string]interface{}{
		{"album_id": 7, "user_id": 3, "distance": 0.42, "photo_urls": []string{"a.jpg"}},
	})
	matches, err := parseRecognitionPayload(payload)
	if err != nil {
		t.Fatalf("parseRecognitionPayload failed: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.AlbumID != 7 || m.UserID != 3 || m.Distance != 0.42 {
		t.Fatalf("unexpected match %+v", m)
	}
}

func TestParseRecognitionPayloadWrappedResults(t *testing.T) {
	payload := envelopePayload(t, map[string]interface{}{
		"results": []map[string]interface{}{
			{"album_id": 1, "user_id": 2, "distance": 0.1},
			{"album_id": 1, "user_id": 4, "distance": 0.6},
		},
	})
	matches, err := parseRecognitionPayload(payload)
	if err != nil {
		t.Fatalf("parseRecognitionPayload failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
}

func TestParseRecognitionPayloadAlbumFromKey(t *testing.T) {
	payload := envelopePayload(t, []map[string]interface{}{
		{"key": "images/15/3/123-a.jpg", "user_id": 3, "distance": 0.2},
	})
	matches, err := parseRecognitionPayload(payload)
	if err != nil {
		t.Fatalf("parseRecognitionPayload failed: %v", err)
	}
	if matches[0].AlbumID != 15 {
		t.Fatalf("expected album 15 recovered from key, got %d", matches[0].AlbumID)
	}
}

func TestParseRecognitionPayloadMalformed(t *testing.T) {
	for _, payload := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"statusCode":200}`),
		envelopePayload(t, 42),
	} {
		if _, err := parseRecognitionPayload(payload); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("payload %q: expected ErrMalformedResponse, got %v", payload, err)
		}
	}
}

func TestParseBlurPayload(t *testing.T) {
	payload := envelopePayload(t, map[string]int{"7": 2, "9": 1, "bogus": 5})
	counts, err := parseBlurPayload(payload)
	if err != nil {
		t.Fatalf("parseBlurPayload failed: %v", err)
	}
	if len(counts) != 2 || counts[7] != 2 || counts[9] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestParseDuplicatePayload(t *testing.T) {
	payload := envelopePayload(t, map[string]interface{}{"album_id": 12, "total_duplicates": 4})
	albumID, total, err := parseDuplicatePayload(payload)
	if err != nil {
		t.Fatalf("parseDuplicatePayload failed: %v", err)
	}
	if albumID != 12 || total != 4 {
		t.Fatalf("unexpected result album=%d total=%d", albumID, total)
	}
}

func TestAlbumIDFromKey(t *testing.T) {
	cases := map[string]uint{
		"images/42/7/123-pic.jpg": 42,
		"images/abc/7/pic.jpg":    0,
		"flat.jpg":                0,
		"":                        0,
	}
	for key, want := range cases {
		if got := albumIDFromKey(key); got != want {
			t.Fatalf("albumIDFromKey(%q) = %d, want %d", key, got, want)
		}
	}
}

type fakeLambda struct {
	outputs []*lambda.InvokeOutput
	errs    []error
	calls   int
}

func (f *fakeLambda) Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	i := f.calls
	f.calls++
	if i >= len(f.outputs) {
		i = len(f.outputs) - 1
	}
	return f.outputs[i], f.errs[i]
}

func TestRecognizeFacesSuccess(t *testing.T) {
	payload := envelopePayload(t, []map[string]interface{}{
		{"album_id": 3, "user_id": 8, "distance": 0.33},
	})
	api := &fakeLambda{
		outputs: []*lambda.InvokeOutput{{Payload: payload}},
		errs:    []error{nil},
	}
	c := &LambdaClassifier{
		api:                    api,
		bucket:                 "bucket",
		recognitionFn:          "recognize",
		recognitionMaxAttempts: 1,
		logger:                 zap.NewNop().Sugar(),
	}
	matches, err := c.RecognizeFaces(context.Background(), []IngestRecord{{S3Key: "images/3/8/a.jpg", AlbumID: 3, UserID: 8}})
	if err != nil {
		t.Fatalf("RecognizeFaces failed: %v", err)
	}
	if len(matches) != 1 || matches[0].UserID != 8 {
		t.Fatalf("unexpected matches %+v", matches)
	}
}

func TestRecognizeFacesRetriesTransientFailureToCap(t *testing.T) {
	api := &fakeLambda{
		outputs: []*lambda.InvokeOutput{nil, nil},
		errs:    []error{errors.New("throttled"), errors.New("throttled")},
	}
	c := &LambdaClassifier{
		api:                    api,
		recognitionFn:          "recognize",
		recognitionMaxAttempts: 2,
		retryBackoff:           time.Millisecond,
		logger:                 zap.NewNop().Sugar(),
	}
	_, err := c.RecognizeFaces(context.Background(), []IngestRecord{{S3Key: "k"}})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if api.calls != 2 {
		t.Fatalf("expected exactly 2 invocations, got %d", api.calls)
	}
}

func TestRecognizeFacesParseErrorNotRetried(t *testing.T) {
	api := &fakeLambda{
		outputs: []*lambda.InvokeOutput{{Payload: envelopePayload(t, 42)}},
		errs:    []error{nil},
	}
	c := &LambdaClassifier{
		api:                    api,
		recognitionFn:          "recognize",
		recognitionMaxAttempts: 2,
		retryBackoff:           time.Millisecond,
		logger:                 zap.NewNop().Sugar(),
	}
	_, err := c.RecognizeFaces(context.Background(), []IngestRecord{{S3Key: "k"}})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
	if api.calls != 1 {
		t.Fatalf("parse errors must not consume retry attempts, got %d invocations", api.calls)
	}
}

func TestRecognizeFacesFunctionError(t *testing.T) {
	api := &fakeLambda{
		outputs: []*lambda.InvokeOutput{{FunctionError: aws.String("Unhandled")}},
		errs:    []error{nil},
	}
	c := &LambdaClassifier{
		api:                    api,
		recognitionFn:          "recognize",
		recognitionMaxAttempts: 1,
		logger:                 zap.NewNop().Sugar(),
	}
	if _, err := c.RecognizeFaces(context.Background(), []IngestRecord{{S3Key: "k"}}); err == nil {
		t.Fatal("expected error for function error response")
	}
	if api.calls != 1 {
		t.Fatalf("expected 1 invocation, got %d", api.calls)
	}
}

func TestBuildEventCarriesMetadata(t *testing.T) {
	c := &LambdaClassifier{bucket: "photos"}
	ev := c.buildEvent([]IngestRecord{{S3Key: "images/1/2/a.jpg", AlbumID: 1, UserID: 2, FileName: "a.jpg"}})
	if len(ev.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(ev.Records))
	}
	r := ev.Records[0]
	if r.S3.Bucket.Name != "photos" || r.S3.Object.Key != "images/1/2/a.jpg" {
		t.Fatalf("unexpected s3 section %+v", r.S3)
	}
	if r.Metadata.AlbumID != 1 || r.Metadata.UserID != 2 || r.Metadata.FileName != "a.jpg" {
		t.Fatalf("unexpected metadata %+v", r.Metadata)
	}
}
