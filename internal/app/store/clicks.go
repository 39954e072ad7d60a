package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// ClickStore persists click records keyed by (trackingId, fingerprint) and
// maintains the fingerprint and user indexes used by attribution.
type ClickStore struct {
	rdb redis.Cmdable
}

func NewClickStore(rdb redis.Cmdable) *ClickStore {
	return &ClickStore{rdb: rdb}
}

// SaveClick writes the record with ttl (the campaign attribution window) and
// refreshes the indexes with indexTTL, dropping index members older than
// indexTTL. A zero indexTTL stores the record without indexing it, so it can
// only be found by its explicit click id.
func (s *ClickStore) SaveClick(ctx context.Context, click *model.ClickRecord, ttl, indexTTL time.Duration) error {
	data, err := json.Marshal(click)
	if err != nil {
		return fmt.Errorf("store: marshal click: %w", err)
	}

	score := float64(click.Timestamp.UnixMilli())
	stale := "(" + strconv.FormatInt(click.Timestamp.Add(-indexTTL).UnixMilli(), 10)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, ClickKey(click.TrackingID, click.Fingerprint), data, ttl)
		if indexTTL <= 0 {
			return nil
		}

		fpKey := FingerprintIndexKey(click.Fingerprint)
		pipe.ZAdd(ctx, fpKey, redis.Z{Score: score, Member: click.TrackingID})
		pipe.ZRemRangeByScore(ctx, fpKey, "-inf", stale)
		pipe.Expire(ctx, fpKey, indexTTL)

		if click.UserID != "" {
			userKey := UserIndexKey(click.UserID)
			pipe.ZAdd(ctx, userKey, redis.Z{Score: score, Member: UserIndexMember(click.TrackingID, click.Fingerprint)})
			pipe.ZRemRangeByScore(ctx, userKey, "-inf", stale)
			pipe.Expire(ctx, userKey, indexTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: save click: %w", err)
	}
	return nil
}

func (s *ClickStore) GetClick(ctx context.Context, trackingID, fingerprint string) (*model.ClickRecord, error) {
	raw, err := s.rdb.Get(ctx, ClickKey(trackingID, fingerprint)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("store: get click: %w", err)
	}

	var click model.ClickRecord
	if err := json.Unmarshal(raw, &click); err != nil {
		return nil, fmt.Errorf("store: decode click: %w", err)
	}
	return &click, nil
}

// ClicksByFingerprint returns live clicks made by the device since the given
// instant, most recent first.
func (s *ClickStore) ClicksByFingerprint(ctx context.Context, fingerprint string, since time.Time, limit int64) ([]model.ClickRecord, error) {
	ids, err := s.recent(ctx, FingerprintIndexKey(fingerprint), since, limit)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, ClickKey(id, fingerprint))
	}
	return s.load(ctx, keys)
}

// ClicksByUser returns live clicks made by the user on any device since the
// given instant, most recent first.
func (s *ClickStore) ClicksByUser(ctx context.Context, userID string, since time.Time, limit int64) ([]model.ClickRecord, error) {
	members, err := s.recent(ctx, UserIndexKey(userID), since, limit)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(members))
	for _, member := range members {
		trackingID, fingerprint, ok := SplitUserIndexMember(member)
		if !ok {
			continue
		}
		keys = append(keys, ClickKey(trackingID, fingerprint))
	}
	return s.load(ctx, keys)
}

func (s *ClickStore) recent(ctx context.Context, key string, since time.Time, limit int64) ([]string, error) {
	members, err := s.rdb.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   strconv.FormatInt(since.UnixMilli(), 10),
		Max:   "+inf",
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: read index %s: %w", key, err)
	}
	return members, nil
}

// load fetches click records, skipping keys that already expired.
func (s *ClickStore) load(ctx context.Context, keys []string) ([]model.ClickRecord, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load clicks: %w", err)
	}

	clicks := make([]model.ClickRecord, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var click model.ClickRecord
		if err := json.Unmarshal([]byte(raw), &click); err != nil {
			return nil, fmt.Errorf("store: decode click %s: %w", keys[i], err)
		}
		clicks = append(clicks, click)
	}
	return clicks, nil
}
