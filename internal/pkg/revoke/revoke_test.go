package revoke

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDenylist_Revoke(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer s.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	d := NewDenylist(rdb, time.Minute)
	ctx := context.Background()

	revoked, err := d.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if revoked {
		t.Fatalf("expected token not revoked yet")
	}

	if err := d.Revoke(ctx, "token-1", 0); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	revoked, err = d.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !revoked {
		t.Fatalf("expected token revoked")
	}

	// 条目随 TTL 过期后令牌自然失效，无需再拦
	s.FastForward(2 * time.Minute)
	revoked, err = d.IsRevoked(ctx, "token-1")
	if err != nil {
		t.Fatalf("expired check: %v", err)
	}
	if revoked {
		t.Fatalf("expected entry expired")
	}
}
