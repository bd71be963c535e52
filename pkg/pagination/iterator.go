package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrMaxPagesExceeded is returned when a server keeps returning a cursor past
// the configured page cap.
var ErrMaxPagesExceeded = errors.New("maximum page count exceeded")

// Page is one response of a cursor-paginated endpoint.
type Page[T any] struct {
	Items      []T
	Total      int
	NextCursor string
}

// PageFetcher fetches the page addressed by cursor. The first call receives "".
type PageFetcher[T any] func(ctx context.Context, cursor string) (*Page[T], error)

// Result is the aggregate of a multi-page or multi-chunk operation.
type Result[T any] struct {
	Total int `json:"total"`
	Items []T `json:"items"`
}

// Config holds iterator configuration.
type Config struct {
	// MaxPages caps the number of fetches. Zero means unbounded.
	MaxPages int

	// Label identifies the operation in logs.
	Label string
}

// Option configures Paginate.
type Option func(*Config)

// WithMaxPages caps the number of page fetches.
func WithMaxPages(n int) Option {
	return func(c *Config) {
		c.MaxPages = n
	}
}

// WithLabel names the operation in log output.
func WithLabel(label string) Option {
	return func(c *Config) {
		c.Label = label
	}
}

// Paginate fetches pages until the cursor is exhausted and returns every item
// in response order. Total is taken from the first page. Any failure discards
// what was accumulated.
func Paginate[T any](ctx context.Context, fetch PageFetcher[T], opts ...Option) (*Result[T], error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	start := time.Now()
	logger := log.With().Str("component", "pagination").Str("operation", cfg.Label).Logger()

	var (
		items  []T
		total  int
		cursor string
	)

	for page := 1; ; page++ {
		if cfg.MaxPages > 0 && page > cfg.MaxPages {
			logger.Warn().
				Int("max_pages", cfg.MaxPages).
				Int("items", len(items)).
				Msg("Server still returning a cursor after page cap")
			return nil, fmt.Errorf("%w: %d", ErrMaxPagesExceeded, cfg.MaxPages)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, err := fetch(ctx, cursor)
		if err != nil {
			logger.Debug().
				Err(err).
				Int("page", page).
				Msg("Page fetch failed")
			return nil, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if p == nil {
			p = &Page[T]{}
		}

		if page == 1 {
			total = p.Total
		}
		items = append(items, p.Items...)
		cursor = p.NextCursor

		logger.Debug().
			Int("page", page).
			Int("page_items", len(p.Items)).
			Int("fetched", len(items)).
			Int("total", total).
			Msg("Page fetched")

		if cursor == "" {
			logger.Debug().
				Int("pages", page).
				Int("items", len(items)).
				Dur("duration", time.Since(start)).
				Msg("Pagination complete")
			break
		}
	}

	if items == nil {
		items = []T{}
	}
	return &Result[T]{Total: total, Items: items}, nil
}
