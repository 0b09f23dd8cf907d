// Package redis stores cart sessions in Redis.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-commerce/internal/domain/cart"
)

const (
	sessionPrefix = "cart:session:"
	numberPrefix  = "cart:number:"
)

// forgetScript deletes the tokens of a cart number that still point at it.
// A token that was re-pointed at a newer cart is kept.
var forgetScript = redis.NewScript(`
local tokens = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, token in ipairs(tokens) do
	local key = ARGV[2] .. token
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		n = n + 1
	end
end
redis.call('DEL', KEYS[1])
return n
`)

var _ cart.SessionStore = (*Sessions)(nil)

// Sessions maps cart tokens to cart numbers. Every token key expires after
// ttl; reads refresh the expiry. The reverse number key holds the set of
// tokens of a cart so a completed cart can be forgotten.
type Sessions struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewSessions returns a Sessions store using client.
func NewSessions(client redis.UniversalClient, ttl time.Duration) *Sessions {
	return &Sessions{client: client, ttl: ttl}
}

// Lookup returns the cart number of token and extends its expiry.
func (s *Sessions) Lookup(ctx context.Context, token string) (string, bool, error) {
	number, err := s.client.GetEx(ctx, sessionPrefix+token, s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "redis getex")
	}
	if err := s.client.Expire(ctx, numberPrefix+number, s.ttl).Err(); err != nil {
		return "", false, errors.Wrap(err, "redis expire")
	}
	return number, true, nil
}

// Save points token at number.
func (s *Sessions) Save(ctx context.Context, token, number string) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionPrefix+token, number, s.ttl)
		p.SAdd(ctx, numberPrefix+number, token)
		p.Expire(ctx, numberPrefix+number, s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis save session")
	}
	return nil
}

// ForgetNumber drops every token still pointing at number.
func (s *Sessions) ForgetNumber(ctx context.Context, number string) error {
	err := forgetScript.Run(ctx, s.client, []string{numberPrefix + number}, number, sessionPrefix).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "redis forget cart")
	}
	return nil
}

// Ping checks the connection.
func (s *Sessions) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
