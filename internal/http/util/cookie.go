package util

import (
	"encoding/json"
	"time"

	"github.com/sifan077/PowerTrack/internal/app/model"
)

// CookieCodec encodes the tracking cookie as a signed token so clients cannot
// forge or extend their attribution.
type CookieCodec struct {
	signer *TokenSigner
}

func NewCookieCodec(secret []byte, maxAge time.Duration) *CookieCodec {
	return &CookieCodec{signer: NewTokenSigner(secret, maxAge)}
}

func (c *CookieCodec) Encode(cookie model.TrackingCookie) (string, error) {
	payload, err := json.Marshal(cookie)
	if err != nil {
		return "", err
	}
	return c.signer.Seal(payload)
}

// Decode returns ErrInvalidToken for tampered, expired or malformed values.
func (c *CookieCodec) Decode(value string) (*model.TrackingCookie, error) {
	payload, err := c.signer.Open(value)
	if err != nil {
		return nil, err
	}
	var cookie model.TrackingCookie
	if err := json.Unmarshal(payload, &cookie); err != nil || cookie.TrackingID == "" {
		return nil, ErrInvalidToken
	}
	return &cookie, nil
}
