package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

// DefaultConnectTimeout bounds the initial ping.
const DefaultConnectTimeout = 5 * time.Second

// ValkeyConfig holds the connection settings of the valkey driver.
type ValkeyConfig struct {
	Address        string
	Password       string
	DB             int
	KeyPrefix      string
	ConnectTimeout time.Duration
}

// Valkey keeps one integer key per chat and relies on INCR atomicity.
type Valkey struct {
	inner  valkeylib.Client
	prefix string
}

// NewValkey connects and pings the server.
func NewValkey(cfg ValkeyConfig) (*Valkey, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, fmt.Errorf("counter: valkey address is required")
	}
	opts := valkeylib.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	inner, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := inner.Do(ctx, inner.B().Ping().Build()).Error(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to ping valkey (timeout: %v): %w", timeout, err)
	}

	return newValkeyWithClient(inner, cfg.KeyPrefix), nil
}

func newValkeyWithClient(inner valkeylib.Client, prefix string) *Valkey {
	return &Valkey{inner: inner, prefix: normalizePrefix(prefix)}
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		prefix = "chronobot"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix
}

func (v *Valkey) key(chatID int64) string {
	return v.prefix + "msgcount:" + strconv.FormatInt(chatID, 10)
}

// Increment implements Counter.
func (v *Valkey) Increment(ctx context.Context, chatID int64) (int64, error) {
	total, err := v.inner.Do(ctx, v.inner.B().Incr().Key(v.key(chatID)).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("increment counter %d: %w", chatID, err)
	}
	return total, nil
}

// Total implements Counter.
func (v *Valkey) Total(ctx context.Context, chatID int64) (int64, error) {
	total, err := v.inner.Do(ctx, v.inner.B().Get().Key(v.key(chatID)).Build()).AsInt64()
	if err != nil {
		if valkeylib.IsValkeyNil(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read counter %d: %w", chatID, err)
	}
	return total, nil
}

// Close closes the connection.
func (v *Valkey) Close() error {
	if v.inner != nil {
		v.inner.Close()
	}
	return nil
}
