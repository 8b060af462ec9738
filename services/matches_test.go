package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cppla/picshare/services"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestReconcileKeepsLowestDistance(t *testing.T) {
	_, rc := newTestRedis(t)
	store := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	orders := [][]float64{
		{0.5, 0.3, 0.4},
		{0.3, 0.4, 0.5},
		{0.4, 0.5, 0.3},
	}
	for _, distances := range orders {
		rc.FlushAll(ctx)
		for _, d := range distances {
			if err := store.Reconcile(ctx, 1, 2, d, []string{"a.jpg"}); err != nil {
				t.Fatalf("Reconcile(%v) failed: %v", d, err)
			}
		}
		matches, err := store.ListMatches(ctx, 1)
		if err != nil {
			t.Fatalf("ListMatches failed: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected 1 match, got %d", len(matches))
		}
		if matches[0].Distance != 0.3 {
			t.Fatalf("order %v: expected distance 0.3, got %v", distances, matches[0].Distance)
		}
	}
}

func TestReconcileMissingUserIsPermanent(t *testing.T) {
	_, rc := newTestRedis(t)
	store := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())

	err := store.Reconcile(context.Background(), 1, 0, 0.5, nil)
	if err == nil {
		t.Fatal("expected error for missing user id")
	}
	if !services.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestMatchesExpire(t *testing.T) {
	mr, rc := newTestRedis(t)
	store := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	if err := store.Reconcile(ctx, 7, 9, 0.2, nil); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	matches, err := store.ListMatches(ctx, 7)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected matches to expire, got %d", len(matches))
	}
}

func TestListMatchesReturnsEachUserOnce(t *testing.T) {
	_, rc := newTestRedis(t)
	store := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	// More keys than one SCAN page so listing spans several iterations.
	const users = 250
	for uid := uint(1); uid <= users; uid++ {
		if err := store.Reconcile(ctx, 3, uid, 0.5, nil); err != nil {
			t.Fatalf("Reconcile(user=%d) failed: %v", uid, err)
		}
	}

	matches, err := store.ListMatches(ctx, 3)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(matches) != users {
		t.Fatalf("expected %d matches, got %d", users, len(matches))
	}
	seen := map[uint]bool{}
	for _, m := range matches {
		if seen[m.UserID] {
			t.Fatalf("user %d listed more than once", m.UserID)
		}
		seen[m.UserID] = true
	}
}

func TestListMatchesScopedToAlbum(t *testing.T) {
	_, rc := newTestRedis(t)
	store := services.NewMatchStore(rc, time.Hour, zap.NewNop().Sugar())
	ctx := context.Background()

	if err := store.Reconcile(ctx, 1, 10, 0.2, nil); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if err := store.Reconcile(ctx, 2, 10, 0.1, nil); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	matches, err := store.ListMatches(ctx, 1)
	if err != nil {
		t.Fatalf("ListMatches failed: %v", err)
	}
	if len(matches) != 1 || matches[0].AlbumID != 1 {
		t.Fatalf("expected only album 1 matches, got %+v", matches)
	}
}
