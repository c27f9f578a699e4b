// Copyright 2025 James Ross
package link

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Coordinates identifies one Redis list endpoint.
type Coordinates struct {
	Hostname string
	Port     int
	Password string
	SSL      bool
	Channel  string
}

// Link wraps one Redis connection for a single channel (list key),
// grounded on internal/redisclient.New's pool/timeout construction.
type Link struct {
	Name    string
	Channel string
	rdb     *redis.Client
}

// Dial builds a client for coord, matching the wire protocol in
// spec.md §6: plain or TLS, addressed by hostname/port. No connection is
// opened here; the first command (e.g. Ping) establishes it.
func Dial(name string, coord Coordinates) *Link {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", coord.Hostname, coord.Port),
		Password:     coord.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	if coord.SSL {
		opts.TLSConfig = &tls.Config{ServerName: coord.Hostname}
	}
	return &Link{Name: name, Channel: coord.Channel, rdb: redis.NewClient(opts)}
}

// Close releases the underlying connection.
func (l *Link) Close() error { return l.rdb.Close() }

// Ping verifies the connection is alive, used when establishing a worker's
// connection set (spec.md §4.E step 1) and by the readiness probe.
func (l *Link) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// BlockingPop performs BLPOP with the given timeout against the source
// list. redis.Nil signals the timeout case.
func (l *Link) BlockingPop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := l.rdb.BLPop(ctx, timeout, l.Channel).Result()
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", fmt.Errorf("unexpected BLPOP reply shape: %v", res)
	}
	return res[1], nil
}

// Push is the unconditional blind RPUSH described in spec.md §4.B; callers
// must have already checked admission.
func (l *Link) Push(ctx context.Context, data []byte) error {
	return l.rdb.RPush(ctx, l.Channel, string(data)).Err()
}

// Length implements admission.Prober.
func (l *Link) Length(ctx context.Context) (int64, error) {
	return l.rdb.LLen(ctx, l.Channel).Result()
}

// TrimHead implements admission.Prober: removes the first count entries
// using LTRIM, the list's range-trim primitive.
func (l *Link) TrimHead(ctx context.Context, count int64) error {
	return l.rdb.LTrim(ctx, l.Channel, count, -1).Err()
}
