package fx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// missingRate marks a cached lookup that found no rate.
const missingRate = "-"

// CachedRates memoises a RateSource in Redis and collapses concurrent lookups
// for the same key.
type CachedRates struct {
	source RateSource
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedRates wraps source with a Redis cache.
func NewCachedRates(source RateSource, client *redis.Client, ttl time.Duration) *CachedRates {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRates{source: source, client: client, ttl: ttl}
}

type cachedRate struct {
	rate decimal.Decimal
	ok   bool
}

// RateOn implements RateSource.
func (c *CachedRates) RateOn(ctx context.Context, companyID int64, currency string, date time.Time) (decimal.Decimal, bool, error) {
	key := rateKey(companyID, currency, date)
	if c.client != nil {
		raw, err := c.client.Get(ctx, key).Result()
		switch {
		case err == nil:
			return decodeRate(raw)
		case err != redis.Nil:
			return decimal.Zero, false, err
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		rate, ok, err := c.source.RateOn(ctx, companyID, currency, date)
		if err != nil {
			return nil, err
		}
		if c.client != nil {
			if err := c.client.Set(ctx, key, encodeRate(rate, ok), c.ttl).Err(); err != nil {
				return nil, err
			}
		}
		return cachedRate{rate: rate, ok: ok}, nil
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, false, res.Err
		}
		val := res.Val.(cachedRate)
		return val.rate, val.ok, nil
	}
}

// Invalidate drops every cached rate of the company.
func (c *CachedRates) Invalidate(ctx context.Context, companyID int64) error {
	if c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("fx:rate:%d:*", companyID), 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

func rateKey(companyID int64, currency string, date time.Time) string {
	return fmt.Sprintf("fx:rate:%d:%s:%s", companyID, strings.ToUpper(currency), date.Format("2006-01-02"))
}

func encodeRate(rate decimal.Decimal, ok bool) string {
	if !ok {
		return missingRate
	}
	return rate.String()
}

func decodeRate(raw string) (decimal.Decimal, bool, error) {
	if raw == missingRate {
		return decimal.Zero, false, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, err
	}
	return rate, true, nil
}

// StaticRates serves fixed rates keyed by currency code, ignoring company and date.
type StaticRates map[string]decimal.Decimal

// RateOn implements RateSource.
func (s StaticRates) RateOn(_ context.Context, _ int64, currency string, _ time.Time) (decimal.Decimal, bool, error) {
	rate, ok := s[strings.ToUpper(currency)]
	return rate, ok, nil
}
