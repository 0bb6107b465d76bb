// Package redis implements backend.Backend on top of Redis. Entries are plain
// string keys; changes are announced on a pub/sub channel so other contexts
// sharing the instance can pick them up.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/google/uuid"

	"github.com/suyash-sneo/kvsync/backend"
	"github.com/suyash-sneo/kvsync/internal/redis_scripts"
)

const (
	defaultPrefix  = "kvsync:"
	defaultChannel = "changes"
)

// Options configure the Redis backend.
type Options struct {
	Addr           string   `yaml:"addr"`
	SentinelAddrs  []string `yaml:"sentinelAddrs,omitempty"`
	SentinelMaster string   `yaml:"sentinelMaster,omitempty"`
	Username       string   `yaml:"username,omitempty"`
	Password       string   `yaml:"password,omitempty"`
	DB             int      `yaml:"db"`
	// KeyPrefix namespaces every stored key. Defaults to "kvsync:".
	KeyPrefix string `yaml:"keyPrefix"`
	// Channel is the pub/sub channel carrying change events, relative to KeyPrefix.
	Channel string `yaml:"channel"`
	// ContextID stamps published events. When empty it is taken from
	// ContextIDs, or a random id is used.
	ContextID string `yaml:"contextId,omitempty"`
	// ContextIDs supplies ContextID when that is empty. A failing provider
	// falls back to a random id.
	ContextIDs backend.ContextIDProvider `yaml:"-"`
	// MaxValueBytes rejects larger values with backend.ErrQuotaExceeded. Zero disables the check.
	MaxValueBytes int `yaml:"maxValueBytes,omitempty"`
}

// Client is the minimal surface used by the backend.
type Client interface {
	goredis.Cmdable
	Subscribe(ctx context.Context, channels ...string) *goredis.PubSub
	Close() error
}

// Store implements backend.Backend using Redis.
type Store struct {
	client    Client
	prefix    string
	channel   string
	contextID string
	maxValue  int

	setScript    redisScript
	removeScript redisScript
}

// New creates a Redis-backed store. Supports single instance or Sentinel via UniversalClient.
func New(opts Options) (*Store, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:      addrs(opts),
		MasterName: opts.SentinelMaster,
		Username:   opts.Username,
		Password:   opts.Password,
		DB:         opts.DB,
		TLSConfig:  nil,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w: %v", backend.ErrUnavailable, err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client. Connection fields of opts are ignored.
func NewWithClient(client Client, opts Options) *Store {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	channel := opts.Channel
	if channel == "" {
		channel = defaultChannel
	}
	return &Store{
		client:       client,
		prefix:       prefix,
		channel:      prefix + channel,
		contextID:    contextID(opts),
		maxValue:     opts.MaxValueBytes,
		setScript:    newRedisScript(redis_scripts.NewScript(redis_scripts.SetItem)),
		removeScript: newRedisScript(redis_scripts.NewScript(redis_scripts.RemoveItem)),
	}
}

func contextID(opts Options) string {
	if opts.ContextID != "" {
		return opts.ContextID
	}
	if opts.ContextIDs != nil {
		if id, err := opts.ContextIDs.ContextID(); err == nil && id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func addrs(opts Options) []string {
	if len(opts.SentinelAddrs) > 0 {
		return opts.SentinelAddrs
	}
	if opts.Addr != "" {
		return []string{opts.Addr}
	}
	return []string{"127.0.0.1:6379"}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) ContextID() string {
	return s.contextID
}

// Channel returns the fully qualified pub/sub channel name.
func (s *Store) Channel() string {
	return s.channel
}

func (s *Store) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, s.itemKey(key)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return val, true, nil
}

func (s *Store) SetItem(ctx context.Context, key string, raw string) error {
	if s.maxValue > 0 && len(raw) > s.maxValue {
		return fmt.Errorf("set %q: %d bytes over limit %d: %w", key, len(raw), s.maxValue, backend.ErrQuotaExceeded)
	}
	old, oldPresent, err := s.setScript.run(ctx, s.client, []string{s.itemKey(key)}, raw)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, classify(err))
	}
	return s.publish(ctx, backend.ChangeEvent{
		Key:        key,
		OldRaw:     old,
		OldPresent: oldPresent,
		NewRaw:     raw,
		NewPresent: true,
		Source:     s.contextID,
	})
}

func (s *Store) RemoveItem(ctx context.Context, key string) error {
	old, oldPresent, err := s.removeScript.run(ctx, s.client, []string{s.itemKey(key)})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, classify(err))
	}
	if !oldPresent {
		return nil
	}
	return s.publish(ctx, backend.ChangeEvent{
		Key:        key,
		OldRaw:     old,
		OldPresent: true,
		Source:     s.contextID,
	})
}

// Subscribe listens on the change channel. The subscription is confirmed
// before returning so writes made afterwards are never missed.
func (s *Store) Subscribe(ctx context.Context) (<-chan backend.ChangeEvent, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", s.channel, classify(err))
	}

	out := make(chan backend.ChangeEvent, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			var ev backend.ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			if ev.Source == s.contextID || ev.Key == "" {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (s *Store) publish(ctx context.Context, ev backend.ChangeEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		// The write itself is committed; only other contexts miss the notification.
		return fmt.Errorf("publish %q: %w: %v", ev.Key, backend.ErrNotifyFailed, err)
	}
	return nil
}

func (s *Store) itemKey(key string) string {
	return s.prefix + key
}

// classify maps Redis failures onto the backend sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if strings.HasPrefix(err.Error(), "OOM") {
		return fmt.Errorf("%w: %v", backend.ErrQuotaExceeded, err)
	}
	var netErr net.Error
	if errors.Is(err, goredis.ErrClosed) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", backend.ErrUnavailable, err)
	}
	return err
}

type redisScript struct {
	src string
	sha string
}

func newRedisScript(s redis_scripts.Script) redisScript {
	return redisScript{src: s.Source, sha: s.SHA}
}

// run executes the script and decodes its {present, old} reply.
func (s redisScript) run(ctx context.Context, client Client, keys []string, args ...interface{}) (string, bool, error) {
	val, err := client.EvalSha(ctx, s.sha, keys, args...).Result()
	if err != nil && isNoScript(err) {
		val, err = client.Eval(ctx, s.src, keys, args...).Result()
	}
	if err != nil {
		return "", false, err
	}
	reply, ok := val.([]interface{})
	if !ok || len(reply) != 2 {
		return "", false, fmt.Errorf("unexpected script return %T", val)
	}
	present, err := toInt(reply[0])
	if err != nil {
		return "", false, err
	}
	old, _ := reply[1].(string)
	return old, present == 1, nil
}

func toInt(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		// Some Redis proxies return string numbers.
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected script return type %T", v)
	}
}

func isNoScript(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOSCRIPT")
}
