package session

import (
	"context"

	"functionctl/internal/cache"
)

// WrapArtifactCache adapts a *cache.Cache to the ArtifactCache interface.
// cache.Cache and this package each define their own Builder type with an
// identical underlying signature, so a thin wrapper bridges between them.
func WrapArtifactCache(c *cache.Cache) ArtifactCache {
	return cacheAdapter{c}
}

type cacheAdapter struct {
	c *cache.Cache
}

func (a cacheAdapter) GetOrBuild(ctx context.Context, key string, build Builder) ([]byte, error) {
	return a.c.GetOrBuild(ctx, key, cache.Builder(build))
}
