package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mealsynth/internal/database"
	"mealsynth/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string]CachedImage
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: map[string]CachedImage{}}
}

func (m *memoryCache) Get(ctx context.Context, key string) (*CachedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return &img, nil
}

func (m *memoryCache) Put(ctx context.Context, key string, img CachedImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = img
	return nil
}

func testClient(t *testing.T, handler http.HandlerFunc, cache ImageCache) *PexelsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	noSleep := retry.WithSleep(func(ctx context.Context, d time.Duration) error { return nil })
	return NewPexelsClient("test-key", cache, zap.NewNop(),
		WithBaseURL(srv.URL),
		WithRateLimit(1000, 100),
		WithRetryOptions(noSleep),
	)
}

func TestNormalizeDishName(t *testing.T) {
	assert.Equal(t, "grilled_salmon_with_rice", NormalizeDishName("Grilled Salmon with Rice!"))
	assert.Equal(t, "ph_b", NormalizeDishName("  Phở Bò "))
	assert.Equal(t, "", NormalizeDishName("!!!"))
}

func TestSearchQueries(t *testing.T) {
	queries := SearchQueries("Chicken Tikka Masala", ImageHints{
		Cuisine:     "indian",
		MealType:    "dinner",
		SearchTerms: "tikka masala",
	})

	assert.Equal(t, []string{
		"tikka masala food",
		"tikka masala",
		"Chicken Tikka Masala indian food",
		"Chicken Tikka Masala food",
		"Chicken Tikka Masala",
		"Chicken food",
		"dinner food",
		"healthy food",
		"delicious food",
	}, queries)

	short := SearchQueries("Egg", ImageHints{})
	assert.Equal(t, []string{"Egg food", "Egg", "healthy food", "delicious food"}, short)
}

func TestGetFoodImageCascadesAndCaches(t *testing.T) {
	var calls atomic.Int32
	var seenAuth string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		seenAuth = r.Header.Get("Authorization")
		assert.Equal(t, "landscape", r.URL.Query().Get("orientation"))
		if r.URL.Query().Get("query") == "oatmeal bowl food" {
			fmt.Fprint(w, `{"photos":[]}`)
			return
		}
		fmt.Fprint(w, `{"photos":[{"src":{"large":"https://images.pexels.com/oatmeal.jpg"}}]}`)
	}, newMemoryCache())

	hints := ImageHints{MealType: "breakfast", SearchTerms: "oatmeal bowl"}
	res, err := client.GetFoodImage(context.Background(), "Berry Oatmeal", hints)
	require.NoError(t, err)
	assert.Equal(t, "https://images.pexels.com/oatmeal.jpg", res.ImageURL)
	assert.Equal(t, ImageSourcePexels, res.Source)
	assert.Equal(t, "oatmeal bowl", res.SearchQuery)
	assert.Equal(t, "test-key", seenAuth)
	assert.EqualValues(t, 2, calls.Load())

	again, err := client.GetFoodImage(context.Background(), "berry oatmeal", hints)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, ImageSourceCached, again.Source)
	assert.Equal(t, res.ImageURL, again.ImageURL)
	assert.EqualValues(t, 2, calls.Load(), "cache hit must not call the API")
}

func TestGetFoodImageFallsBack(t *testing.T) {
	cache := newMemoryCache()
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, cache)

	res, err := client.GetFoodImage(context.Background(), "Mystery Stew", ImageHints{MealType: "lunch"})
	require.NoError(t, err)
	assert.Equal(t, ImageSourceFallback, res.Source)
	assert.Equal(t, FallbackImage("lunch"), res.ImageURL)

	cached, err := cache.Get(context.Background(), "mystery_stew")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, ImageSourceFallback, cached.ImageSource)
}

func TestFallbackImage(t *testing.T) {
	assert.Contains(t, FallbackImage("Dinner"), "photo-1565299624946-b28f40a0ca4b")
	assert.Equal(t, defaultFallbackImage, FallbackImage("snack"))

	res, err := FallbackFinder{}.GetFoodImage(context.Background(), "Pad Thai", ImageHints{MealType: "dinner"})
	require.NoError(t, err)
	assert.Equal(t, FallbackImage("dinner"), res.ImageURL)
	assert.Equal(t, ImageSourceFallback, res.Source)
}

func TestSQLiteImageCache(t *testing.T) {
	db, err := database.NewDB(filepath.Join(t.TempDir(), "images.db"))
	require.NoError(t, err)
	defer db.Close()

	cache := NewSQLiteImageCache(db.SQL)
	ctx := context.Background()

	miss, err := cache.Get(ctx, "shakshuka")
	require.NoError(t, err)
	assert.Nil(t, miss)

	img := CachedImage{DishName: "Shakshuka", ImageURL: "https://img/1.jpg", ImageSource: ImageSourcePexels, SearchQuery: "shakshuka food"}
	require.NoError(t, cache.Put(ctx, "shakshuka", img))

	img.ImageURL = "https://img/2.jpg"
	require.NoError(t, cache.Put(ctx, "shakshuka", img))

	got, err := cache.Get(ctx, "shakshuka")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://img/2.jpg", got.ImageURL)

	_, err = cache.Get(ctx, "shakshuka")
	require.NoError(t, err)

	var hits int
	require.NoError(t, db.SQL.QueryRow(`SELECT hit_count FROM food_images WHERE cache_key = ?`, "shakshuka").Scan(&hits))
	assert.Equal(t, 2, hits)
}
