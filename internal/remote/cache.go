package remote

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 32

// CachingStore wraps a Store with an LRU over GetMetadata results. Archived
// snapshots are immutable once written, so their metadata never needs
// refetching; the Latest alias always passes through.
type CachingStore struct {
	Store
	metadata *lru.Cache[string, Tree]
}

func NewCachingStore(store Store) (*CachingStore, error) {
	cache, err := lru.New[string, Tree](defaultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}
	return &CachingStore{
		Store:    store,
		metadata: cache,
	}, nil
}

func (c *CachingStore) GetMetadata(ctx context.Context, ref string) (Tree, error) {
	if ref == Latest {
		return c.Store.GetMetadata(ctx, ref)
	}

	if tree, ok := c.metadata.Get(ref); ok {
		return tree, nil
	}

	tree, err := c.Store.GetMetadata(ctx, ref)
	if err != nil {
		return nil, err
	}
	c.metadata.Add(ref, tree)
	return tree, nil
}

var _ Store = (*CachingStore)(nil)
