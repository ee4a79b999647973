package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/fluentlens/fluentlens/internal/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CacheConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", config.CacheDriverRedis:
		return OpenRedis(ctx, cfg.Redis)
	case config.CacheDriverBadger:
		return OpenBadger(cfg.Badger)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}
