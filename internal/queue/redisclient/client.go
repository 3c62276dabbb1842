// Package redisclient constructs the go-redis/v9 client every other queue
// package talks through, including TLS and sentinel failover per
// config.RedisSettings.
package redisclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/geocoder89/redisq/internal/config"
)

type Client struct {
	redisdb *redis.Client
}

type Config struct {
	Addr     string
	Password string
	DB       int
}

func New(cfg Config) *Client {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return &Client{redisdb: redisdb}
}

// FromSettings builds a client from config.RedisSettings, wiring TLS and
// sentinel failover (aiorq's RedisSettings.sentinel/sentinel_master) the
// way NewFailoverClient expects.
func FromSettings(rs config.RedisSettings) *Client {
	var tlsConfig *tls.Config
	if rs.TLS {
		tlsConfig = &tls.Config{ServerName: rs.Host}
	}

	if rs.Sentinel {
		redisdb := redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    rs.SentinelMaster,
			SentinelAddrs: []string{rs.Addr()},
			Password:      rs.Password,
			DB:            rs.Database,
			DialTimeout:   rs.ConnTimeout,
			ReadTimeout:   rs.ConnTimeout,
			WriteTimeout:  rs.ConnTimeout,
			TLSConfig:     tlsConfig,
		})
		return &Client{redisdb: redisdb}
	}

	redisdb := redis.NewClient(&redis.Options{
		Addr:         rs.Addr(),
		Password:     rs.Password,
		DB:           rs.Database,
		DialTimeout:  rs.ConnTimeout,
		ReadTimeout:  rs.ConnTimeout,
		WriteTimeout: rs.ConnTimeout,
		TLSConfig:    tlsConfig,
	})
	return &Client{redisdb: redisdb}
}

// Dial mirrors aiorq's create_pool: ping with a capped number of retries
// before giving up, so a worker started slightly ahead of Redis coming up
// doesn't fail its first health check.
func Dial(ctx context.Context, rs config.RedisSettings) (*Client, error) {
	c := FromSettings(rs)

	var lastErr error
	for attempt := 0; attempt <= rs.ConnRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, rs.ConnTimeout)
		lastErr = c.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			return c, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(rs.ConnRetryDelay):
		}
	}

	return nil, fmt.Errorf("redisclient: could not connect to %s after %d attempts: %w", rs.Addr(), rs.ConnRetries+1, lastErr)
}

// this ping function checks redis connectivity

func (c *Client) Ping(ctx context.Context) error {
	return c.redisdb.Ping(ctx).Err()
}

// this closes the client

func (c *Client) Close() error {
	return c.redisdb.Close()
}

//  this exposes the redis client for later days (producer/ worker flow)

func (c *Client) Raw() *redis.Client {
	return c.redisdb
}
