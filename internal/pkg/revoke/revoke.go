// Package revoke 维护访问令牌的 Redis 吊销名单。
package revoke

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"registrar/internal/pkg/metrics"
)

const keyPrefix = "registrar:revoke:jti:"

// Denylist 按令牌 ID 记录已注销的令牌，条目随令牌剩余有效期过期。
type Denylist struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDenylist(rdb *redis.Client, ttl time.Duration) *Denylist {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Denylist{
		rdb: rdb,
		ttl: ttl,
	}
}

// Revoke 将令牌 ID 加入吊销名单。ttl 为令牌剩余有效期，
// 传 0 时使用默认窗口。
func (d *Denylist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if d == nil || d.rdb == nil || jti == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = d.ttl
	}
	key := keyPrefix + hashToken(jti)
	if err := d.rdb.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke set: %w", err)
	}
	metrics.TokensRevokedTotal.Inc()
	return nil
}

// IsRevoked 查询令牌是否已被吊销。
func (d *Denylist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if d == nil || d.rdb == nil || jti == "" {
		return false, nil
	}
	key := keyPrefix + hashToken(jti)
	n, err := d.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("revoke exists: %w", err)
	}
	return n > 0, nil
}

func hashToken(jti string) string {
	sum := sha256.Sum256([]byte(jti))
	return hex.EncodeToString(sum[:])
}
