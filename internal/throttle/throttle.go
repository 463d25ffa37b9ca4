package throttle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrLocked      = errors.New("throttle: too many failed attempts")
	ErrUnavailable = errors.New("throttle: redis unavailable")
)

type Config struct {
	Namespace   string
	MaxFailures int
	Window      time.Duration
}

// LoginThrottle locks a subject out for the rest of the window once it has
// MaxFailures failed attempts.
type LoginThrottle struct {
	redis redis.UniversalClient
	cfg   Config
}

func New(client redis.UniversalClient, cfg Config) *LoginThrottle {
	if cfg.Namespace == "" {
		cfg.Namespace = "auth"
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	return &LoginThrottle{redis: client, cfg: cfg}
}

func (t *LoginThrottle) key(subject string) string {
	return t.cfg.Namespace + ":lf:" + strings.ToLower(strings.TrimSpace(subject))
}

// Check returns ErrLocked when subject has used up its failures.
func (t *LoginThrottle) Check(ctx context.Context, subject string) error {
	n, err := t.Failures(ctx, subject)
	if err != nil {
		return err
	}
	if n >= t.cfg.MaxFailures {
		return ErrLocked
	}
	return nil
}

// Failures returns the count in the current window. A missing key is zero.
func (t *LoginThrottle) Failures(ctx context.Context, subject string) (int, error) {
	n, err := t.redis.Get(ctx, t.key(subject)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return n, nil
}

// Fail records one failure and reports ErrLocked when it reaches the limit.
func (t *LoginThrottle) Fail(ctx context.Context, subject string) error {
	key := t.key(subject)
	n, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if n == 1 {
		if err := t.redis.Expire(ctx, key, t.cfg.Window).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if n >= int64(t.cfg.MaxFailures) {
		return ErrLocked
	}
	return nil
}

// Reset clears subject's counter after a successful login.
func (t *LoginThrottle) Reset(ctx context.Context, subject string) error {
	if err := t.redis.Del(ctx, t.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
