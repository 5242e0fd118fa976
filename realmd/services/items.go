package services

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sahilm/fuzzy"

	"github.com/duskridge/realmd/realmd/database/models"
	"github.com/duskridge/realmd/realmd/database/repositories"
)

const searchCacheSize = 256

// ItemCatalog holds every item definition in memory. Definitions change
// rarely and commit-time validation cannot afford a database round trip
// per offered item, so the whole table is resident and Reload swaps it
// wholesale.
type ItemCatalog struct {
	repo repositories.ItemRepository

	mu    sync.RWMutex
	byID  map[int64]models.ItemDefinition
	names []string
	ids   []int64

	searchCache *lru.Cache // query -> []models.ItemDefinition
}

func NewItemCatalog(repo repositories.ItemRepository) (*ItemCatalog, error) {
	searchCache, err := lru.New(searchCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create search cache: %w", err)
	}
	return &ItemCatalog{
		repo:        repo,
		byID:        make(map[int64]models.ItemDefinition),
		searchCache: searchCache,
	}, nil
}

// Load reads all item definitions from storage and replaces the
// resident set.
func (c *ItemCatalog) Load(ctx context.Context) error {
	items, err := c.repo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load item catalog: %w", err)
	}

	byID := make(map[int64]models.ItemDefinition, len(items))
	names := make([]string, 0, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		byID[item.ID] = item
		names = append(names, item.Name)
		ids = append(ids, item.ID)
	}

	c.mu.Lock()
	c.byID = byID
	c.names = names
	c.ids = ids
	c.mu.Unlock()
	c.searchCache.Purge()
	return nil
}

func (c *ItemCatalog) Get(itemID int64) (models.ItemDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[itemID]
	return item, ok
}

func (c *ItemCatalog) Known(itemID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byID[itemID]
	return ok
}

// Tradeable reports whether the item may change owners. Unknown items
// are never tradeable.
func (c *ItemCatalog) Tradeable(itemID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[itemID]
	return ok && item.Tradeable
}

func (c *ItemCatalog) Stackable(itemID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.byID[itemID]
	return ok && item.Stackable
}

func (c *ItemCatalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// SearchByName fuzzy-matches item names and returns the best matches,
// best first. Recent queries are served from a small LRU.
func (c *ItemCatalog) SearchByName(query string, limit int) []models.ItemDefinition {
	if query == "" || limit <= 0 {
		return nil
	}

	cacheKey := fmt.Sprintf("%s|%d", query, limit)
	if v, ok := c.searchCache.Get(cacheKey); ok {
		return v.([]models.ItemDefinition)
	}

	c.mu.RLock()
	matches := fuzzy.Find(query, c.names)

	results := make([]models.ItemDefinition, 0, limit)
	for _, m := range matches {
		if len(results) == limit {
			break
		}
		results = append(results, c.byID[c.ids[m.Index]])
	}
	c.mu.RUnlock()

	c.searchCache.Add(cacheKey, results)
	return results
}
