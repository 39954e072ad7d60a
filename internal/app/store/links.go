package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/PowerTrack/internal/app/model"
)

// ErrKeyNotFound signals that the requested key is missing or expired.
var ErrKeyNotFound = errors.New("store: key not found")

// LinkStore persists tracking links in Redis.
type LinkStore struct {
	rdb redis.Cmdable
}

func NewLinkStore(rdb redis.Cmdable) *LinkStore {
	return &LinkStore{rdb: rdb}
}

// SaveLink writes the link with the given retention.
func (s *LinkStore) SaveLink(ctx context.Context, link *model.TrackingLink, ttl time.Duration) error {
	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("store: marshal link: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, LinkKey(link.TrackingID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("store: save link: %w", err)
	}
	if !ok {
		return fmt.Errorf("store: tracking id %s already issued", link.TrackingID)
	}
	return nil
}

func (s *LinkStore) GetLink(ctx context.Context, trackingID string) (*model.TrackingLink, error) {
	raw, err := s.rdb.Get(ctx, LinkKey(trackingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("store: get link: %w", err)
	}

	var link model.TrackingLink
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, fmt.Errorf("store: decode link: %w", err)
	}
	return &link, nil
}

// DeleteLink removes a link that was issued but never handed out.
func (s *LinkStore) DeleteLink(ctx context.Context, trackingID string) error {
	if err := s.rdb.Del(ctx, LinkKey(trackingID)).Err(); err != nil {
		return fmt.Errorf("store: delete link: %w", err)
	}
	return nil
}

// PairLink returns the tracking id currently shared by direct clicks on the
// affiliate/campaign pair.
func (s *LinkStore) PairLink(ctx context.Context, affiliateID, campaignID string) (string, error) {
	id, err := s.rdb.Get(ctx, PairLinkKey(affiliateID, campaignID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("store: get pair link: %w", err)
	}
	return id, nil
}

// swapPairLink sets the pair key to ARGV[2] only while it still holds ARGV[1]
// ("" meaning absent) and returns whatever id the key holds afterwards.
var swapPairLink = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (cur == false and ARGV[1] == '') or cur == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	return ARGV[2]
end
return cur
`)

// SwapPairLink replaces the pair's tracking id when it still equals previous
// and returns the id that won. A concurrent issuer that got there first wins.
func (s *LinkStore) SwapPairLink(ctx context.Context, affiliateID, campaignID, previous, trackingID string, ttl time.Duration) (string, error) {
	winner, err := swapPairLink.Run(ctx, s.rdb,
		[]string{PairLinkKey(affiliateID, campaignID)},
		previous, trackingID, ttl.Milliseconds(),
	).Text()
	if err != nil {
		return "", fmt.Errorf("store: swap pair link: %w", err)
	}
	return winner, nil
}
