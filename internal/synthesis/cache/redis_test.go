package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-synthesis/internal/platform/logger"
)

func newTestRedis(t *testing.T, max int) *Redis {
	t.Helper()
	addr := strings.TrimSpace(os.Getenv("REDIS_TEST_ADDR"))
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	r, err := NewRedis(logger.Nop(), RedisOptions{
		Addr:       addr,
		Prefix:     "synthesis-test:" + uuid.NewString() + ":",
		TTL:        time.Minute,
		MaxEntries: max,
	})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRedis_RoundTrip(t *testing.T) {
	r := newTestRedis(t, 8)
	ctx := context.Background()

	if _, ok := r.Get(ctx, "missing"); ok {
		t.Fatalf("unexpected hit")
	}
	if err := r.Set(ctx, "k", result("harbor")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := r.Get(ctx, "k")
	if !ok || got.Items[0].Payload["word"] != "harbor" {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}
	if !r.Delete(ctx, "k") {
		t.Fatalf("expected delete")
	}
	st := r.Stats(ctx)
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRedis_EvictsClosestToExpiry(t *testing.T) {
	r := newTestRedis(t, 2)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		r.now = func() time.Time { return at }
		if err := r.Set(ctx, fmt.Sprintf("k%d", i), result("w")); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	if _, ok := r.Get(ctx, "k0"); ok {
		t.Fatalf("k0 should have been evicted")
	}
	if r.Stats(ctx).Evictions != 1 {
		t.Fatalf("stats=%+v", r.Stats(ctx))
	}
}

func TestRedisFake_RoundTripAndStats(t *testing.T) {
	r, fr := newFakeRedisStore(t, 8)
	ctx := context.Background()

	if _, ok := r.Get(ctx, "missing"); ok {
		t.Fatalf("unexpected hit")
	}
	if err := r.Set(ctx, "k", result("harbor")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if !fr.has("synthesis:result:k") || !fr.member("synthesis:expiry", "k") {
		t.Fatalf("entry or index member not written")
	}
	got, ok := r.Get(ctx, "k")
	if !ok || got.Items[0].Payload["word"] != "harbor" {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}
	if r.Len(ctx) != 1 {
		t.Fatalf("len=%d", r.Len(ctx))
	}
	if !r.Delete(ctx, "k") || r.Delete(ctx, "k") {
		t.Fatalf("delete should succeed once")
	}
	st := r.Stats(ctx)
	if st.Backend != "redis" || st.Hits != 1 || st.Misses != 1 || st.Entries != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRedisFake_EvictsClosestToExpiryNotOldestInsert(t *testing.T) {
	r, fr := newFakeRedisStore(t, 2)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of expiry order: "early" is written second but expires first.
	for _, e := range []struct {
		key    string
		offset time.Duration
	}{{"late", 5 * time.Second}, {"early", 0}, {"mid", 2 * time.Second}} {
		at := base.Add(e.offset)
		r.now = func() time.Time { return at }
		if err := r.Set(ctx, e.key, result(e.key)); err != nil {
			t.Fatalf("Set %s: %v", e.key, err)
		}
	}
	r.now = func() time.Time { return base.Add(5 * time.Second) }

	if fr.has("synthesis:result:early") || fr.member("synthesis:expiry", "early") {
		t.Fatalf("early should have been evicted")
	}
	for _, k := range []string{"late", "mid"} {
		if _, ok := r.Get(ctx, k); !ok {
			t.Fatalf("%s should survive", k)
		}
	}
	if st := r.Stats(ctx); st.Evictions != 1 || st.Entries != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRedisFake_SweepsExpiredIndexMembers(t *testing.T) {
	r, fr := newFakeRedisStore(t, 8)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	r.now = func() time.Time { return base }
	if err := r.Set(ctx, "old", result("old")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := r.Set(ctx, "new", result("new")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if fr.member("synthesis:expiry", "old") {
		t.Fatalf("expired member still indexed")
	}
	if st := r.Stats(ctx); st.Expirations != 1 || st.Evictions != 0 || st.Entries != 1 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRedisFake_UndecodableEntryIsDropped(t *testing.T) {
	r, fr := newFakeRedisStore(t, 8)
	ctx := context.Background()
	fr.strings["synthesis:result:bad"] = "{not json"
	fr.zset("synthesis:expiry")["bad"] = float64(time.Now().Add(time.Minute).UnixMilli())

	if _, ok := r.Get(ctx, "bad"); ok {
		t.Fatalf("undecodable entry served")
	}
	if fr.has("synthesis:result:bad") || fr.member("synthesis:expiry", "bad") {
		t.Fatalf("undecodable entry not removed")
	}
	if st := r.Stats(ctx); st.Misses != 1 || st.Hits != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestRedisFake_ErrorsAreMisses(t *testing.T) {
	r, fr := newFakeRedisStore(t, 8)
	ctx := context.Background()
	if err := r.Set(ctx, "k", result("harbor")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	fr.fail = errors.New("connection reset by peer")

	if _, ok := r.Get(ctx, "k"); ok {
		t.Fatalf("redis error should read as a miss")
	}
	if err := r.Set(ctx, "k2", result("dock")); err == nil || !strings.Contains(err.Error(), "redis cache set") {
		t.Fatalf("Set err=%v", err)
	}
	if r.Delete(ctx, "k") {
		t.Fatalf("delete should report false on error")
	}
	if r.Len(ctx) != 0 {
		t.Fatalf("len should be 0 on error")
	}
	if err := r.Ping(ctx); err == nil {
		t.Fatalf("ping should surface the error")
	}
	if st := r.Stats(ctx); st.Misses != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
