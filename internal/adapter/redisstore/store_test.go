package redisstore

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/AutoCookies/pomai-memberttl/internal/engine/common"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/tenants"
	"github.com/AutoCookies/pomai-memberttl/internal/engine/ttl"
)

func TestKindFromType(t *testing.T) {
	cases := map[string]common.Kind{
		"none":   common.KindNone,
		"string": common.KindString,
		"hash":   common.KindHash,
		"set":    common.KindSet,
		"zset":   common.KindZSet,
	}
	for name, want := range cases {
		if got, ok := KindFromType(name); !ok || got != want {
			t.Fatalf("KindFromType(%q) = %v,%v want %v", name, got, ok, want)
		}
	}
	for _, name := range []string{"list", "stream", ""} {
		if _, ok := KindFromType(name); ok {
			t.Fatalf("KindFromType(%q) should not map", name)
		}
	}
}

func TestForTenantNamespaces(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	base := New(client, 0, "app:")

	cases := []struct {
		tenant, key, want string
	}{
		{"default", "k", "app:default:k"},
		{"a", "b:x", "app:a:b:x"},
		{"acme", "s", "app:acme:s"},
	}
	for _, tc := range cases {
		s, err := base.ForTenant(tc.tenant)
		if err != nil {
			t.Fatalf("ForTenant(%q): %v", tc.tenant, err)
		}
		if got := s.key(tc.key); got != tc.want {
			t.Fatalf("key(%q) for %q = %q, want %q", tc.key, tc.tenant, got, tc.want)
		}
	}

	for _, id := range []string{"a:b", "", ":"} {
		if _, err := base.ForTenant(id); !errors.Is(err, tenants.ErrInvalidTenant) {
			t.Fatalf("ForTenant(%q) err = %v, want ErrInvalidTenant", id, err)
		}
	}
}

func TestTenantFactoryRejectsColonIDs(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	tm := tenants.NewManager(tenants.Options{
		ShardCount: 4,
		DataStore:  TenantFactory(New(client, 0, "")),
		Logger:     log.New(io.Discard),
	})
	defer tm.Close()

	tn, err := tm.Get("acme")
	if err != nil {
		t.Fatal(err)
	}
	if !tn.External {
		t.Fatalf("redis-backed tenant not flagged external")
	}
	if _, err := tm.Get("a:b"); !errors.Is(err, tenants.ErrInvalidTenant) {
		t.Fatalf("colon tenant err = %v, want ErrInvalidTenant", err)
	}
}

// liveStore connects to POMAI_TEST_REDIS_ADDR under a random prefix.
func liveStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("POMAI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("POMAI_TEST_REDIS_ADDR not set")
	}
	s, err := Dial(context.Background(), Options{Addr: addr, KeyPrefix: "pomai-test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		iter := s.client.Scan(ctx, 0, s.prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			s.client.Del(ctx, iter.Val())
		}
		s.Close()
	})
	return s
}

func TestRemoveMembersAgainstRedis(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	c := s.client

	c.HSet(ctx, s.key("h"), "a", "1", "b", "2")
	c.SAdd(ctx, s.key("s"), "a", "b")
	c.ZAdd(ctx, s.key("z"), &redis.Z{Score: 1, Member: "a"}, &redis.Z{Score: 2, Member: "b"})
	c.RPush(ctx, s.key("l"), "a")

	for _, key := range []string{"h", "s", "z"} {
		n, err := ttl.RemoveMembers(s, key, "a", "missing")
		if err != nil || n != 1 {
			t.Fatalf("%s: removed %d, err %v", key, n, err)
		}
	}
	if _, err := ttl.RemoveMembers(s, "l", "a"); !errors.Is(err, common.ErrWrongType) {
		t.Fatalf("list err = %v, want ErrWrongType", err)
	}
	if _, err := ttl.RemoveMembers(s, "absent", "a"); !errors.Is(err, ttl.ErrNoCollection) {
		t.Fatalf("absent err = %v, want ErrNoCollection", err)
	}
}

func TestEngineExpiresRedisMembers(t *testing.T) {
	s := liveStore(t)
	ctx := context.Background()
	s.client.SAdd(ctx, s.key("s"), "a", "b")

	cfg := ttl.DefaultConfig()
	cfg.Interval = 5 * time.Millisecond
	m := ttl.NewManager(s, cfg)
	defer m.Stop()

	if _, err := m.Expire("s", "a", 20, ttl.UnitMilliseconds); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ok, _ := s.client.SIsMember(ctx, s.key("s"), "a").Result()
		if !ok {
			if still, _ := s.client.SIsMember(ctx, s.key("s"), "b").Result(); !still {
				t.Fatalf("unscheduled member removed")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("member not expired from redis")
}
