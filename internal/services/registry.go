package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MegaGrindStone/ollama-cli/internal/models"
	"github.com/PuerkitoBio/goquery"
)

// DefaultRegistryURL is the library search page listing the newest models.
const DefaultRegistryURL = "https://ollama.com/search?o=newest"

// Selectors for the library page. Each concern has a primary selector matching the current site layout
// and a generic fallback for older or restyled layouts.
const (
	itemSelector         = "li.py-6"
	itemFallbackSelector = "ul > li"

	nameSelector         = "h2"
	nameFallbackSelector = "span.text-lg"

	descSelector         = "p"
	descFallbackSelector = "span.max-w-md"
)

// Registry scrapes the public model library page. Parsing is best-effort: if the page layout changes so
// that no entry can be extracted, Models reports models.ErrParseFailure with an empty result.
type Registry struct {
	url    string
	client *http.Client

	logger *slog.Logger
}

// NewRegistry creates a new Registry reading the page at url, with requests bounded by timeout.
func NewRegistry(url string, timeout time.Duration, logger *slog.Logger) Registry {
	if url == "" {
		url = DefaultRegistryURL
	}
	return Registry{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(slog.String("module", "registry")),
	}
}

// URL returns the page the registry reads.
func (r Registry) URL() string {
	return r.url
}

// Models fetches the library page and returns every entry that carries a name, in page order.
func (r Registry) Models(ctx context.Context) ([]models.RemoteModel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error reaching model library: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model library returned status %d", resp.StatusCode)
	}

	return r.parse(resp.Body)
}

func (r Registry) parse(body io.Reader) ([]models.RemoteModel, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse model library page: %w", err)
	}

	items := doc.Find(itemSelector)
	if items.Length() == 0 {
		r.logger.Debug("Primary item selector matched nothing, using fallback",
			slog.String("selector", itemSelector))
		items = doc.Find(itemFallbackSelector)
	}

	var found []models.RemoteModel
	items.Each(func(_ int, item *goquery.Selection) {
		name := firstText(item, nameSelector, nameFallbackSelector)
		if name == "" {
			return
		}
		found = append(found, models.RemoteModel{
			Name:        name,
			Description: firstText(item, descSelector, descFallbackSelector),
		})
	})

	if len(found) == 0 {
		r.logger.Warn("No models extracted from library page", slog.Int("items", items.Length()))
		return nil, models.ErrParseFailure
	}
	return found, nil
}

// firstText returns the normalized text of the first element matching primary, or of the first element
// matching fallback when primary matches nothing.
func firstText(s *goquery.Selection, primary, fallback string) string {
	sel := s.Find(primary).First()
	if sel.Length() == 0 {
		sel = s.Find(fallback).First()
	}
	return strings.Join(strings.Fields(sel.Text()), " ")
}

// CachedRegistry serves library listings from the local cache while they are fresh and falls back to a
// stale copy when the page cannot be reached.
type CachedRegistry struct {
	source Registry
	store  BoltDB
	ttl    time.Duration

	logger *slog.Logger
}

// NewCachedRegistry wraps source with a cache kept in store. Entries older than ttl are refreshed.
func NewCachedRegistry(source Registry, store BoltDB, ttl time.Duration, logger *slog.Logger) CachedRegistry {
	return CachedRegistry{
		source: source,
		store:  store,
		ttl:    ttl,
		logger: logger.With(slog.String("module", "registry-cache")),
	}
}

// URL returns the page the underlying registry reads.
func (c CachedRegistry) URL() string {
	return c.source.URL()
}

// Models returns the cached listing if it is younger than the TTL, otherwise fetches and stores a fresh
// one. A parse failure is never masked by the cache.
func (c CachedRegistry) Models(ctx context.Context) ([]models.RemoteModel, error) {
	key := c.source.URL()

	cached, fetchedAt, err := c.store.RemoteModels(ctx, key)
	if err != nil {
		c.logger.Warn("Failed to read listing cache", slog.String(errLoggerKey, err.Error()))
	}
	if cached != nil && time.Since(fetchedAt) < c.ttl {
		c.logger.Debug("Serving listing from cache", slog.Time("fetchedAt", fetchedAt))
		return cached, nil
	}

	fresh, err := c.source.Models(ctx)
	if err != nil {
		if cached != nil && !errors.Is(err, models.ErrParseFailure) {
			c.logger.Warn("Library unreachable, serving stale listing",
				slog.Time("fetchedAt", fetchedAt),
				slog.String(errLoggerKey, err.Error()))
			return cached, nil
		}
		return nil, err
	}

	if err := c.store.PutRemoteModels(ctx, key, fresh, time.Now()); err != nil {
		c.logger.Warn("Failed to write listing cache", slog.String(errLoggerKey, err.Error()))
	}
	return fresh, nil
}
