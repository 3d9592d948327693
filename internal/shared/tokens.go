package shared

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidToken indicates the bearer token is unknown or expired.
var ErrInvalidToken = errors.New("invalid api token")

// TokenStore maps opaque bearer tokens to caller identities, backed by
// Redis. Tokens are issued out of band (admin tooling) and expire after ttl.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

type tokenPayload struct {
	FirmID int64 `json:"firm_id"`
	UserID int64 `json:"user_id"`
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Issue creates a token for the identity and returns it.
func (ts *TokenStore) Issue(ctx context.Context, id Identity) (string, error) {
	if id.FirmID <= 0 || id.UserID <= 0 {
		return "", errors.New("token identity requires firm and user")
	}
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(tokenPayload{FirmID: id.FirmID, UserID: id.UserID})
	if err != nil {
		return "", err
	}
	if err := ts.client.Set(ctx, ts.redisKey(token), data, ts.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve looks up the identity for a token and refreshes its TTL.
func (ts *TokenStore) Resolve(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrInvalidToken
	}
	data, err := ts.client.Get(ctx, ts.redisKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, err
	}
	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Identity{}, err
	}
	_ = ts.client.Expire(ctx, ts.redisKey(token), ts.ttl).Err()
	return Identity{FirmID: payload.FirmID, UserID: payload.UserID}, nil
}

// Revoke deletes a token.
func (ts *TokenStore) Revoke(ctx context.Context, token string) error {
	return ts.client.Del(ctx, ts.redisKey(token)).Err()
}

func (ts *TokenStore) redisKey(token string) string {
	return "apitoken:" + token
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
