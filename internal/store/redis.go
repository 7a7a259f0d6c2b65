package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gps-station/internal/pipeline"
)

// PresenceTTL is how long a device stays "seen" after its last record.
const PresenceTTL = 10 * time.Minute

// Store keeps device presence and command quotas in Redis.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

func NewStore(ctx context.Context, addr string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Store{rdb: rdb, now: time.Now}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func lastKey(imei string) string { return "dev:" + imei + ":last" }
func seenKey(imei string) string { return "dev:" + imei + ":seen" }

func dailyKey(imei, cmd string, day time.Time) string {
	return "cmd:" + imei + ":" + cmd + ":" + day.UTC().Format("20060102")
}

func (s *Store) Name() string { return "redis" }

// Publish records the latest position of a device and refreshes its presence.
func (s *Store) Publish(ctx context.Context, tr *pipeline.TrackingObject) error {
	return s.SaveLocation(ctx, tr)
}

func (s *Store) SaveLocation(ctx context.Context, tr *pipeline.TrackingObject) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, lastKey(tr.IMEI),
			"lat", tr.Lat,
			"lon", tr.Lon,
			"spd", tr.Spd,
			"crs", tr.Crs,
			"valid", tr.Valid,
			"fix", tr.Fix,
			"device_time", tr.DeviceTime,
			"received_at", tr.ReceivedAt,
		)
		p.Set(ctx, seenKey(tr.IMEI), s.now().Unix(), PresenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", tr.IMEI, err)
	}
	return nil
}

// LastSeen returns when the device last sent a record, if within PresenceTTL.
func (s *Store) LastSeen(ctx context.Context, imei string) (time.Time, bool, error) {
	val, err := s.rdb.Get(ctx, seenKey(imei)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	sec, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis %s: %w", seenKey(imei), err)
	}
	return time.Unix(sec, 0), true, nil
}

// LastLocation returns the fields stored by SaveLocation, or nil when unknown.
func (s *Store) LastLocation(ctx context.Context, imei string) (map[string]string, error) {
	vals, err := s.rdb.HGetAll(ctx, lastKey(imei)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return vals, nil
}

// IncDailyCmdCounter counts one more cmd for imei today and reports whether
// the count is still within limit.
func (s *Store) IncDailyCmdCounter(ctx context.Context, imei, cmd string, limit int) (bool, int64, error) {
	key := dailyKey(imei, cmd, s.now())

	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, 48*time.Hour)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	n := incr.Val()
	return n <= int64(limit), n, nil
}

// RefundDailyCmdCounter takes back one count of cmd for imei today.
func (s *Store) RefundDailyCmdCounter(ctx context.Context, imei, cmd string) error {
	key := dailyKey(imei, cmd, s.now())
	n, err := s.rdb.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis decr %s: %w", key, err)
	}
	if n <= 0 {
		s.rdb.Del(ctx, key)
	}
	return nil
}
