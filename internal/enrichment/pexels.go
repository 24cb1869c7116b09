package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"mealsynth/internal/retry"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const pexelsSearchURL = "https://api.pexels.com/v1/search"

// Image sources reported in ImageResult.
const (
	ImageSourcePexels   = "pexels"
	ImageSourceCached   = "cached"
	ImageSourceFallback = "fallback"
)

var fallbackImages = map[string]string{
	"breakfast": "https://images.unsplash.com/photo-1551782450-a2132b4ba21d?w=400&h=300&fit=crop",
	"lunch":     "https://images.unsplash.com/photo-1546793665-c74683f339c1?w=400&h=300&fit=crop",
	"dinner":    "https://images.unsplash.com/photo-1565299624946-b28f40a0ca4b?w=400&h=300&fit=crop",
}

const defaultFallbackImage = "https://images.unsplash.com/photo-1567620905732-2d1ec7ab7445?w=400&h=300&fit=crop"

// ImageHints narrow an image search.
type ImageHints struct {
	Cuisine     string
	MealType    string
	SearchTerms string
}

// ImageResult is the outcome of an image lookup.
type ImageResult struct {
	ImageURL    string
	Source      string
	SearchQuery string
	Cached      bool
}

// ImageFinder finds a picture for a dish.
type ImageFinder interface {
	GetFoodImage(ctx context.Context, name string, hints ImageHints) (ImageResult, error)
}

// PexelsClient finds food images on Pexels, cache first.
type PexelsClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      ImageCache
	limiter    *rate.Limiter
	logger     *zap.Logger
	retryOpts  []retry.Option
}

// PexelsOption customises a PexelsClient.
type PexelsOption func(*PexelsClient)

// WithBaseURL points the client at another search endpoint.
func WithBaseURL(u string) PexelsOption {
	return func(c *PexelsClient) { c.baseURL = u }
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(perSecond float64, burst int) PexelsOption {
	return func(c *PexelsClient) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

// WithRetryOptions appends options to every search's retry call.
func WithRetryOptions(opts ...retry.Option) PexelsOption {
	return func(c *PexelsClient) { c.retryOpts = append(c.retryOpts, opts...) }
}

// NewPexelsClient creates a Pexels client. cache may be nil.
func NewPexelsClient(apiKey string, cache ImageCache, logger *zap.Logger, opts ...PexelsOption) *PexelsClient {
	c := &PexelsClient{
		apiKey:     apiKey,
		baseURL:    pexelsSearchURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cache:      cache,
		// The free plan allows 200 requests an hour; bursts serve one plan's fan-out.
		limiter:   rate.NewLimiter(rate.Every(time.Second/2), 10),
		logger:    logger,
		retryOpts: []retry.Option{retry.WithPolicy(retry.ImageSearch), retry.WithLogger(logger)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	nonAlphanumeric = regexp.MustCompile(`[^a-z0-9\s]`)
	spaces          = regexp.MustCompile(`\s+`)
)

// NormalizeDishName builds the cache key of a dish.
func NormalizeDishName(name string) string {
	s := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "")
	return spaces.ReplaceAllString(strings.TrimSpace(s), "_")
}

// FallbackImage returns the stock image for a meal type.
func FallbackImage(mealType string) string {
	if u, ok := fallbackImages[strings.ToLower(mealType)]; ok {
		return u
	}
	return defaultFallbackImage
}

// FallbackFinder is an ImageFinder that only serves stock images. It is
// used when no image search API is configured.
type FallbackFinder struct{}

// GetFoodImage implements ImageFinder.
func (FallbackFinder) GetFoodImage(_ context.Context, _ string, hints ImageHints) (ImageResult, error) {
	return ImageResult{ImageURL: FallbackImage(hints.MealType), Source: ImageSourceFallback}, nil
}

// GetFoodImage implements ImageFinder. Queries go from most to least specific
// and the first hit is cached; when none hits the meal type's stock image
// is cached and returned.
func (c *PexelsClient) GetFoodImage(ctx context.Context, name string, hints ImageHints) (ImageResult, error) {
	key := NormalizeDishName(name)
	if key == "" {
		return ImageResult{ImageURL: FallbackImage(hints.MealType), Source: ImageSourceFallback, SearchQuery: "fallback"}, nil
	}

	if c.cache != nil {
		cached, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("image cache lookup failed", zap.String("key", key), zap.Error(err))
		} else if cached != nil {
			return ImageResult{ImageURL: cached.ImageURL, Source: ImageSourceCached, SearchQuery: cached.SearchQuery, Cached: true}, nil
		}
	}

	for _, query := range SearchQueries(name, hints) {
		res := retry.Do(ctx, "pexels:"+query, func(ctx context.Context) (string, error) {
			return c.search(ctx, query)
		}, c.retryOpts...)
		if !res.Success {
			if ctx.Err() != nil {
				return ImageResult{}, ctx.Err()
			}
			continue
		}
		if res.Data == "" {
			continue
		}

		result := ImageResult{ImageURL: res.Data, Source: ImageSourcePexels, SearchQuery: query}
		c.store(ctx, key, name, result)
		return result, nil
	}

	result := ImageResult{ImageURL: FallbackImage(hints.MealType), Source: ImageSourceFallback, SearchQuery: "fallback"}
	c.store(ctx, key, name, result)
	return result, nil
}

func (c *PexelsClient) store(ctx context.Context, key, name string, r ImageResult) {
	if c.cache == nil {
		return
	}
	err := c.cache.Put(ctx, key, CachedImage{DishName: name, ImageURL: r.ImageURL, ImageSource: r.Source, SearchQuery: r.SearchQuery})
	if err != nil {
		c.logger.Warn("failed to cache image", zap.String("key", key), zap.Error(err))
	}
}

// SearchQueries lists the queries tried for a dish, most specific first.
func SearchQueries(name string, hints ImageHints) []string {
	var queries []string
	add := func(q string) {
		q = strings.TrimSpace(q)
		if q == "" {
			return
		}
		for _, existing := range queries {
			if existing == q {
				return
			}
		}
		queries = append(queries, q)
	}

	if hints.SearchTerms != "" {
		add(hints.SearchTerms + " food")
		add(hints.SearchTerms)
	}
	if hints.Cuisine != "" {
		add(name + " " + hints.Cuisine + " food")
	}
	add(name + " food")
	add(name)
	for _, w := range strings.Fields(name) {
		if len(w) > 3 {
			add(w + " food")
			break
		}
	}
	if hints.MealType != "" {
		add(hints.MealType + " food")
	}
	add("healthy food")
	add("delicious food")
	return queries
}

type pexelsResponse struct {
	Photos []struct {
		Src struct {
			Large string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// search returns the first landscape photo for query, or "" when none.
func (c *PexelsClient) search(ctx context.Context, query string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("per_page", "1")
	params.Set("orientation", "landscape")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pexels api error: status=%d", resp.StatusCode)
	}

	var out pexelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", retry.Malformed(err)
	}
	if len(out.Photos) == 0 {
		return "", nil
	}
	return out.Photos[0].Src.Large, nil
}
