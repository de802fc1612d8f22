package heartbeat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/alpr-fleet/fleet-server/internal/config"
)

const keyPrefix = "heartbeat:"

// OfflineFunc is invoked once per device whose heartbeat went stale.
type OfflineFunc func(lprID int64)

// KV is the slice of Redis the tracker uses.
type KV interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Tracker records device heartbeats in Redis and detects devices that went
// silent. Each heartbeat is stored under heartbeat:{lpr_id} with a TTL of
// four intervals, so a crashed tracker never leaves permanently "online"
// devices behind. A periodic sweep reports devices whose last heartbeat is
// older than the stale threshold.
type Tracker struct {
	kv        KV
	interval  time.Duration
	stale     time.Duration
	onOffline OfflineFunc
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig, interval time.Duration, onOffline OfflineFunc) (*Tracker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Tracker{
		kv:        &redisKV{rdb: rdb},
		interval:  interval,
		stale:     interval,
		onOffline: onOffline,
	}, nil
}

// RecordHeartbeat stamps a device as alive. The key expires after four
// intervals of silence.
func (t *Tracker) RecordHeartbeat(ctx context.Context, lprID int64) error {
	key := keyPrefix + strconv.FormatInt(lprID, 10)
	now := strconv.FormatInt(time.Now().Unix(), 10)

	if err := t.kv.Set(ctx, key, now, 4*t.interval); err != nil {
		return fmt.Errorf("record heartbeat: %w", err)
	}
	return nil
}

// LastSeen returns the last heartbeat time of a device, or a zero time when
// no heartbeat is on record.
func (t *Tracker) LastSeen(ctx context.Context, lprID int64) (time.Time, error) {
	key := keyPrefix + strconv.FormatInt(lprID, 10)

	val, found, err := t.kv.Get(ctx, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("get heartbeat: %w", err)
	}
	if !found {
		return time.Time{}, nil
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat timestamp: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// Run sweeps for stale heartbeats every interval until ctx ends.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.kv.Close()
			return
		case <-ticker.C:
			t.sweep(ctx)
		}
	}
}

// sweep scans every heartbeat key: fresh keys get their TTL refreshed,
// stale keys are deleted and reported so each outage produces exactly one
// offline notification. A failure on one key never aborts the scan.
func (t *Tracker) sweep(ctx context.Context) {
	now := time.Now()

	keys, err := t.kv.Keys(ctx, keyPrefix+"*")
	if err != nil {
		log.Error().Err(err).Msg("Heartbeat sweep scan failed")
		return
	}

	for _, key := range keys {
		val, found, err := t.kv.Get(ctx, key)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("Heartbeat sweep read failed")
			continue
		}
		if !found {
			continue
		}

		unix, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			log.Error().Str("key", key).Str("value", val).Msg("Corrupt heartbeat value, removing")
			t.kv.Del(ctx, key)
			continue
		}

		if now.Sub(time.Unix(unix, 0)) <= t.stale {
			t.kv.Expire(ctx, key, 4*t.interval)
			continue
		}

		lprID, err := strconv.ParseInt(strings.TrimPrefix(key, keyPrefix), 10, 64)
		if err != nil {
			log.Error().Str("key", key).Msg("Malformed heartbeat key, removing")
			t.kv.Del(ctx, key)
			continue
		}

		t.kv.Del(ctx, key)
		log.Warn().Int64("lpr_id", lprID).Msg("Device heartbeat stale, reporting offline")
		if t.onOffline != nil {
			t.onOffline(lprID)
		}
	}
}

// redisKV adapts go-redis to the KV interface.
type redisKV struct {
	rdb *redis.Client
}

func (r *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *redisKV) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *redisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

func (r *redisKV) Del(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// Keys iterates the keyspace with SCAN so the sweep never blocks the server
// the way KEYS would.
func (r *redisKV) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (r *redisKV) Close() error {
	return r.rdb.Close()
}
