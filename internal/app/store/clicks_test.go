package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/internal/app/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestLinkStore_SaveAndGet(t *testing.T) {
	rdb, mr := newTestClient(t)
	links := NewLinkStore(rdb)
	ctx := context.Background()

	link := &model.TrackingLink{
		TrackingID:       "abc",
		AffiliateID:      "aff-1",
		CampaignID:       "camp-1",
		DestinationURL:   "https://shop.example/landing",
		CustomParameters: map[string]string{"utm_source": "aff"},
	}
	require.NoError(t, links.SaveLink(ctx, link, time.Hour))
	assert.Equal(t, time.Hour, mr.TTL(LinkKey("abc")))

	got, err := links.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, link.DestinationURL, got.DestinationURL)
	assert.Equal(t, "aff", got.CustomParameters["utm_source"])

	assert.Error(t, links.SaveLink(ctx, link, time.Hour), "tracking ids are never reissued")

	_, err = links.GetLink(ctx, "missing")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestClickStore_Indexes(t *testing.T) {
	rdb, mr := newTestClient(t)
	clicks := NewClickStore(rdb)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	first := &model.ClickRecord{TrackingID: "t1", AffiliateID: "a1", CampaignID: "c1", Fingerprint: "fp1", UserID: "u1", Timestamp: base}
	second := &model.ClickRecord{TrackingID: "t2", AffiliateID: "a2", CampaignID: "c1", Fingerprint: "fp1", Timestamp: base.Add(time.Hour)}
	otherDevice := &model.ClickRecord{TrackingID: "t3", AffiliateID: "a3", CampaignID: "c1", Fingerprint: "fp2", UserID: "u1", Timestamp: base.Add(2 * time.Hour)}
	for _, c := range []*model.ClickRecord{first, second, otherDevice} {
		require.NoError(t, clicks.SaveClick(ctx, c, 24*time.Hour, 72*time.Hour))
	}

	assert.Equal(t, 24*time.Hour, mr.TTL(ClickKey("t1", "fp1")))
	assert.Equal(t, 72*time.Hour, mr.TTL(FingerprintIndexKey("fp1")))

	got, err := clicks.GetClick(ctx, "t2", "fp1")
	require.NoError(t, err)
	assert.Equal(t, "a2", got.AffiliateID)

	byDevice, err := clicks.ClicksByFingerprint(ctx, "fp1", base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, byDevice, 2)
	assert.Equal(t, "t2", byDevice[0].TrackingID)
	assert.Equal(t, "t1", byDevice[1].TrackingID)

	byUser, err := clicks.ClicksByUser(ctx, "u1", base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, "fp2", byUser[0].Fingerprint)
	assert.Equal(t, "fp1", byUser[1].Fingerprint)

	recent, err := clicks.ClicksByFingerprint(ctx, "fp1", base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t2", recent[0].TrackingID)
}

func TestClickStore_LastWriteWins(t *testing.T) {
	rdb, _ := newTestClient(t)
	clicks := NewClickStore(rdb)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, clicks.SaveClick(ctx, &model.ClickRecord{TrackingID: "t1", Fingerprint: "fp1", IP: "10.0.0.1", Timestamp: base}, time.Hour, time.Hour))
	require.NoError(t, clicks.SaveClick(ctx, &model.ClickRecord{TrackingID: "t1", Fingerprint: "fp1", IP: "10.0.0.2", Timestamp: base.Add(time.Minute)}, time.Hour, time.Hour))

	got, err := clicks.ClicksByFingerprint(ctx, "fp1", base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.2", got[0].IP)
}

func TestClickStore_SkipsExpiredRecords(t *testing.T) {
	rdb, mr := newTestClient(t)
	clicks := NewClickStore(rdb)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, clicks.SaveClick(ctx, &model.ClickRecord{TrackingID: "short", Fingerprint: "fp1", Timestamp: base}, time.Minute, time.Hour))
	require.NoError(t, clicks.SaveClick(ctx, &model.ClickRecord{TrackingID: "long", Fingerprint: "fp1", Timestamp: base}, time.Hour, time.Hour))
	mr.FastForward(2 * time.Minute)

	got, err := clicks.ClicksByFingerprint(ctx, "fp1", base.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "long", got[0].TrackingID)

	_, err = clicks.GetClick(ctx, "short", "fp1")
	assert.True(t, errors.Is(err, ErrKeyNotFound))
}

func TestLinkStore_SwapPairLink(t *testing.T) {
	rdb, mr := newTestClient(t)
	links := NewLinkStore(rdb)
	ctx := context.Background()

	_, err := links.PairLink(ctx, "aff-1", "camp-1")
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	winner, err := links.SwapPairLink(ctx, "aff-1", "camp-1", "", "first", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "first", winner)
	assert.Equal(t, time.Hour, mr.TTL(PairLinkKey("aff-1", "camp-1")))

	winner, err = links.SwapPairLink(ctx, "aff-1", "camp-1", "", "second", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "first", winner, "a concurrent issuer keeps the existing link")

	winner, err = links.SwapPairLink(ctx, "aff-1", "camp-1", "first", "third", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "third", winner)

	id, err := links.PairLink(ctx, "aff-1", "camp-1")
	require.NoError(t, err)
	assert.Equal(t, "third", id)
}

func TestClickStore_UnindexedClick(t *testing.T) {
	rdb, mr := newTestClient(t)
	clicks := NewClickStore(rdb)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, clicks.SaveClick(ctx, &model.ClickRecord{TrackingID: "t1", Fingerprint: "fp1", UserID: "u1", Timestamp: base}, time.Hour, 0))

	_, err := clicks.GetClick(ctx, "t1", "fp1")
	require.NoError(t, err)
	assert.False(t, mr.Exists(FingerprintIndexKey("fp1")))
	assert.False(t, mr.Exists(UserIndexKey("u1")))
}

func TestClickStore_PrunesStaleIndexMembers(t *testing.T) {
	rdb, mr := newTestClient(t)
	clicks := NewClickStore(rdb)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

	old := &model.ClickRecord{TrackingID: "old", Fingerprint: "fp1", UserID: "u1", Timestamp: base}
	fresh := &model.ClickRecord{TrackingID: "fresh", Fingerprint: "fp1", UserID: "u1", Timestamp: base.Add(48 * time.Hour)}
	require.NoError(t, clicks.SaveClick(ctx, old, time.Hour, 24*time.Hour))
	require.NoError(t, clicks.SaveClick(ctx, fresh, time.Hour, 24*time.Hour))

	members, err := mr.ZMembers(FingerprintIndexKey("fp1"))
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, members)

	members, err = mr.ZMembers(UserIndexKey("u1"))
	require.NoError(t, err)
	assert.Equal(t, []string{UserIndexMember("fresh", "fp1")}, members)
}
