package restaurant

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// Restaurant is one entry of the restaurant catalog.
type Restaurant struct {
	Name        string   `yaml:"name" json:"name"`
	Cuisine     string   `yaml:"cuisine" json:"cuisine"`
	City        string   `yaml:"city" json:"city"`
	Address     string   `yaml:"address" json:"address,omitempty"`
	MenuURL     string   `yaml:"menu_url" json:"menuUrl,omitempty"`
	OrderingURL string   `yaml:"ordering_url" json:"orderingUrl,omitempty"`
	PriceLevel  int      `yaml:"price_level" json:"priceLevel,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`

	// Menu lists known dishes for restaurants without a scrapeable menu page.
	Menu []string `yaml:"menu" json:"menu,omitempty"`
}

// Catalog is the set of restaurants the restaurant pipeline chooses from.
type Catalog struct {
	Restaurants []Restaurant `yaml:"restaurants"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read restaurant catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse restaurant catalog: %w", err)
	}
	for i, r := range c.Restaurants {
		if strings.TrimSpace(r.Name) == "" {
			return nil, fmt.Errorf("restaurant %d has no name", i)
		}
	}
	return &c, nil
}

// Candidates returns up to limit restaurants in city, those serving one of
// the preferred cuisines first. An empty city matches every restaurant.
func (c *Catalog) Candidates(city string, cuisines []string, limit int) []Restaurant {
	if c == nil {
		return nil
	}
	preferred := make(map[string]bool, len(cuisines))
	for _, cu := range cuisines {
		preferred[strings.ToLower(strings.TrimSpace(cu))] = true
	}

	var matches []Restaurant
	for _, r := range c.Restaurants {
		if city != "" && r.City != "" && !strings.EqualFold(r.City, city) {
			continue
		}
		matches = append(matches, r)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return preferred[strings.ToLower(matches[i].Cuisine)] && !preferred[strings.ToLower(matches[j].Cuisine)]
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
