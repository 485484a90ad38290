// Package redisstore lets an expiration engine remove members from
// collections held in an external Redis.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/core"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

type Options struct {
	Addr     string
	Password string
	DB       int
	// Timeout bounds each command.
	Timeout time.Duration
	// KeyPrefix namespaces every key, e.g. per tenant.
	KeyPrefix string
}

// Store implements the engine's data store over a go-redis client.
type Store struct {
	client  redis.UniversalClient
	timeout time.Duration
	prefix  string
}

// Dial connects and pings Redis.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	return New(client, opts.Timeout, opts.KeyPrefix), nil
}

// New wraps an existing client. Several stores may share one client with
// different prefixes.
func New(client redis.UniversalClient, timeout time.Duration, prefix string) *Store {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Store{client: client, timeout: timeout, prefix: prefix}
}

// WithPrefix returns a store sharing the client under another prefix.
func (s *Store) WithPrefix(prefix string) *Store {
	return &Store{client: s.client, timeout: s.timeout, prefix: prefix}
}

// ForTenant returns a store whose keys live under "<prefix><tenant>:".
// Every tenant, including "default", gets its own namespace, and ids
// containing ':' are rejected so two namespaces can never overlap.
func (s *Store) ForTenant(tenantID string) (*Store, error) {
	if tenantID == "" || strings.Contains(tenantID, ":") {
		return nil, fmt.Errorf("%w: %q cannot name a redis namespace", tenants.ErrInvalidTenant, tenantID)
	}
	return s.WithPrefix(s.prefix + tenantID + ":"), nil
}

// TenantFactory points every tenant's expiration engine at its namespace
// in base.
func TenantFactory(base *Store) tenants.DataStoreFactory {
	return func(tenantID string, _ *core.Store) (ttl.DataStore, error) {
		s, err := base.ForTenant(tenantID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *Store) Client() redis.UniversalClient {
	return s.client
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// KindFromType maps a Redis TYPE reply to a kind. Types with no Kind,
// such as list or stream, come back as ok=false.
func KindFromType(t string) (common.Kind, bool) {
	return common.ParseKind(t)
}

func (s *Store) CollectionKind(key string) (common.Kind, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	t, err := s.client.Type(ctx, s.key(key)).Result()
	if err != nil {
		return common.KindNone, fmt.Errorf("redis TYPE %s: %w", key, err)
	}
	kind, ok := KindFromType(t)
	if !ok {
		return common.KindNone, fmt.Errorf("%w: redis type %s", common.ErrWrongType, t)
	}
	return kind, nil
}

func (s *Store) HDel(key string, fields ...string) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.HDel(ctx, s.key(key), fields...).Result()
	return int(n), err
}

func (s *Store) SRem(key string, members ...string) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.SRem(ctx, s.key(key), toArgs(members)...).Result()
	return int(n), err
}

func (s *Store) ZRem(key string, members ...string) (int, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	n, err := s.client.ZRem(ctx, s.key(key), toArgs(members)...).Result()
	return int(n), err
}

func toArgs(members []string) []interface{} {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return args
}
