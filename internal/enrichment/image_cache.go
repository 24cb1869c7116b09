package enrichment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedImage is a stored image lookup.
type CachedImage struct {
	DishName    string `json:"dishName"`
	ImageURL    string `json:"imageUrl"`
	ImageSource string `json:"imageSource"`
	SearchQuery string `json:"searchQuery"`
}

// ImageCache stores image lookups by normalized dish name.
type ImageCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) (*CachedImage, error)
	Put(ctx context.Context, key string, img CachedImage) error
}

// SQLiteImageCache keeps image lookups in the food_images table.
type SQLiteImageCache struct {
	db *sql.DB
}

// NewSQLiteImageCache creates a cache on an open database.
func NewSQLiteImageCache(db *sql.DB) *SQLiteImageCache {
	return &SQLiteImageCache{db: db}
}

// Get implements ImageCache and bumps the hit counter on a hit.
func (c *SQLiteImageCache) Get(ctx context.Context, key string) (*CachedImage, error) {
	var img CachedImage
	err := c.db.QueryRowContext(ctx,
		`SELECT dish_name, image_url, image_source, search_query FROM food_images WHERE cache_key = ?`, key,
	).Scan(&img.DishName, &img.ImageURL, &img.ImageSource, &img.SearchQuery)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached image: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE food_images SET hit_count = hit_count + 1, last_used = ? WHERE cache_key = ?`,
		time.Now().UTC(), key,
	); err != nil {
		return nil, fmt.Errorf("failed to update image hit count: %w", err)
	}
	return &img, nil
}

// Put implements ImageCache.
func (c *SQLiteImageCache) Put(ctx context.Context, key string, img CachedImage) error {
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO food_images (cache_key, dish_name, image_url, image_source, search_query, hit_count, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			image_url = excluded.image_url,
			image_source = excluded.image_source,
			search_query = excluded.search_query,
			last_used = excluded.last_used`,
		key, img.DishName, img.ImageURL, img.ImageSource, img.SearchQuery, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to cache image: %w", err)
	}
	return nil
}

// RedisImageCache keeps image lookups in Redis with a TTL.
type RedisImageCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisImageCache creates a cache on a Redis client.
func NewRedisImageCache(client redis.Cmdable, ttl time.Duration) *RedisImageCache {
	return &RedisImageCache{client: client, prefix: "food_image:", ttl: ttl}
}

// Get implements ImageCache.
func (c *RedisImageCache) Get(ctx context.Context, key string) (*CachedImage, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached image: %w", err)
	}

	var img CachedImage
	if err := json.Unmarshal(raw, &img); err != nil {
		return nil, fmt.Errorf("failed to decode cached image: %w", err)
	}
	return &img, nil
}

// Put implements ImageCache.
func (c *RedisImageCache) Put(ctx context.Context, key string, img CachedImage) error {
	raw, err := json.Marshal(img)
	if err != nil {
		return fmt.Errorf("failed to encode cached image: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache image: %w", err)
	}
	return nil
}
