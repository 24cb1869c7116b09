package enrichment

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ImageItem is one dish awaiting a picture. Key lets the caller map the
// result back to its meal.
type ImageItem struct {
	Key      string
	Name     string
	Hints    ImageHints
	ImageURL string
	Source   string
}

// DefaultImageConcurrency bounds parallel lookups for one plan.
const DefaultImageConcurrency = 6

// EnrichImages looks up a picture for every item without one, at most limit
// at a time. A failed lookup leaves the item on its meal type's stock image;
// it never fails the batch. The input slice is not modified.
func EnrichImages(ctx context.Context, finder ImageFinder, items []ImageItem, limit int, logger *zap.Logger) []ImageItem {
	out := make([]ImageItem, len(items))
	copy(out, items)
	if finder == nil || len(out) == 0 {
		return out
	}
	if limit < 1 {
		limit = DefaultImageConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range out {
		if out[i].ImageURL != "" {
			continue
		}
		g.Go(func() error {
			item := &out[i]
			res, err := finder.GetFoodImage(ctx, item.Name, item.Hints)
			if err != nil {
				logger.Warn("image lookup failed",
					zap.String("dish", item.Name),
					zap.Error(err),
				)
				item.ImageURL = FallbackImage(item.Hints.MealType)
				item.Source = ImageSourceFallback
				return nil
			}
			item.ImageURL = res.ImageURL
			item.Source = res.Source
			return nil
		})
	}
	_ = g.Wait()

	return out
}
