// Package pow gates community lyric submissions behind a small
// proof-of-work: the server issues a signed challenge and the client
// must find a nonce whose SHA-256 hash of challenge+nonce starts with
// a run of zero hex digits.
package pow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid challenge token")
	ErrExpiredToken  = errors.New("challenge token expired")
	ErrHashTooWeak   = errors.New("hash does not meet difficulty")
	ErrMissingSecret = errors.New("challenge secret not configured")
)

// Issuer creates and verifies proof-of-work challenges.
type Issuer struct {
	secret     []byte
	difficulty int
	ttl        time.Duration
}

type claims struct {
	Challenge string `json:"challenge"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

func New(secret string, difficulty int, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &Issuer{secret: []byte(secret), difficulty: difficulty, ttl: ttl}, nil
}

// Difficulty is the required number of leading zero hex digits.
func (i *Issuer) Difficulty() int {
	return i.difficulty
}

// Challenge returns a signed token embedding a fresh random challenge.
func (i *Issuer) Challenge() (string, error) {
	now := time.Now()
	return i.sign(claims{
		Challenge: uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(i.ttl).Unix(),
	})
}

// Verify checks the token's signature and expiry, then that
// SHA-256(challenge + nonce) meets the difficulty.
func (i *Issuer) Verify(token, nonce string) error {
	c, err := i.parse(token)
	if err != nil {
		return err
	}
	if time.Now().Unix() >= c.ExpiresAt {
		return ErrExpiredToken
	}

	sum := sha256.Sum256([]byte(c.Challenge + nonce))
	digest := hex.EncodeToString(sum[:])
	if !strings.HasPrefix(digest, strings.Repeat("0", i.difficulty)) {
		return ErrHashTooWeak
	}
	return nil
}

func (i *Issuer) sign(c claims) (string, error) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	signing := header + "." + base64.RawURLEncoding.EncodeToString(payload)

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(signing))
	return signing + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

func (i *Issuer) parse(token string) (*claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte(parts[0] + "." + parts[1]))
	expected := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode token payload: %v", err)
	}
	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token claims: %v", err)
	}
	return &c, nil
}
