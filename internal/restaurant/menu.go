package restaurant

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxMenuChars = 4000

// Menu is the menu text gathered for one restaurant.
type Menu struct {
	Restaurant Restaurant
	Text       string
}

// MenuScraper fetches restaurant menu pages and reduces them to plain text.
type MenuScraper struct {
	httpClient  *http.Client
	logger      *zap.Logger
	concurrency int
}

// NewMenuScraper creates a MenuScraper.
func NewMenuScraper(logger *zap.Logger) *MenuScraper {
	return &MenuScraper{
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
		concurrency: 4,
	}
}

// FetchMenu downloads url and returns the visible text of its body.
func (s *MenuScraper) FetchMenu(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "mealsynth/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Strip noise to save LLM tokens
	doc.Find("script, style, nav, footer, header, iframe, noscript, .ads, #ads").Each(func(i int, sel *goquery.Selection) {
		sel.Remove()
	})

	// Menu pages are mostly lists and headings; keep one entry per line.
	var lines []string
	doc.Find("h1, h2, h3, h4, li, p, td, .menu-item").Each(func(i int, sel *goquery.Selection) {
		text := strings.Join(strings.Fields(sel.Text()), " ")
		if text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		lines = []string{strings.Join(strings.Fields(doc.Find("body").Text()), " ")}
	}

	text := strings.Join(lines, "\n")
	if len(text) > maxMenuChars {
		text = text[:maxMenuChars]
	}
	return text, nil
}

// Collect gathers menus for every restaurant concurrently. A restaurant
// whose page cannot be fetched falls back to its catalog dishes, and is
// dropped when it has none.
func (s *MenuScraper) Collect(ctx context.Context, restaurants []Restaurant) []Menu {
	menus := make([]Menu, len(restaurants))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, r := range restaurants {
		g.Go(func() error {
			text := strings.Join(r.Menu, "\n")
			if r.MenuURL != "" {
				scraped, err := s.FetchMenu(gctx, r.MenuURL)
				if err != nil {
					s.logger.Warn("menu fetch failed", zap.String("restaurant", r.Name), zap.Error(err))
				} else {
					text = scraped
				}
			}
			menus[i] = Menu{Restaurant: r, Text: text}
			return nil
		})
	}
	_ = g.Wait()

	out := menus[:0]
	for _, m := range menus {
		if strings.TrimSpace(m.Text) != "" {
			out = append(out, m)
		}
	}
	return out
}
