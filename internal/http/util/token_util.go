package util

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrMissingSecret = errors.New("token secret is not configured")
)

const signatureSize = 16

// TokenSigner seals payloads into compact HMAC tokens of the form
// base64(expiry|payload).base64(mac).
type TokenSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenSigner returns a signer. A zero ttl issues tokens that never expire.
func NewTokenSigner(secret []byte, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Seal signs payload and returns the token.
func (s *TokenSigner) Seal(payload []byte) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	body := make([]byte, 4+len(payload)) // 4 bytes expiry + payload
	var expires uint32
	if s.ttl > 0 {
		expires = uint32(s.now().Add(s.ttl).Unix())
	}
	binary.BigEndian.PutUint32(body[:4], expires)
	copy(body[4:], payload)

	bodyEnc := base64.RawURLEncoding.EncodeToString(body)
	sigEnc := base64.RawURLEncoding.EncodeToString(s.sign(body)[:signatureSize])
	return fmt.Sprintf("%s.%s", bodyEnc, sigEnc), nil
}

// Open checks signature integrity and expiry and returns the payload.
func (s *TokenSigner) Open(token string) ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, ErrMissingSecret
	}

	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, ErrInvalidToken
	}

	body, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(body) < 4 {
		return nil, ErrInvalidToken
	}

	sigProvided, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil || len(sigProvided) != signatureSize {
		return nil, ErrInvalidToken
	}

	if !hmac.Equal(sigProvided, s.sign(body)[:signatureSize]) {
		return nil, ErrInvalidToken
	}

	expires := binary.BigEndian.Uint32(body[:4])
	if expires != 0 && s.now().Unix() > int64(expires) {
		return nil, ErrInvalidToken
	}

	return body[4:], nil
}

func (s *TokenSigner) sign(body []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
