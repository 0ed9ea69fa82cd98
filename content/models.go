// Package content defines the catalog boundary. Catalog storage and file
// ingestion live outside this module; the engine only needs enough of an
// item to price a session and hand out a playback location.
package content

import (
	"context"
	"errors"
)

// ErrNotFound is returned by catalogs for unknown content.
var ErrNotFound = errors.New("content: not found")

// Item is the engine's view of one piece of content.
type Item struct {
	ID             string `json:"id"`
	CreatorID      string `json:"creator_id"`
	Title          string `json:"title"`
	MimeType       string `json:"mime_type"`
	PlaybackURL    string `json:"playback_url"`
	PricePerSecond int64  `json:"price_per_second"` // minor units
	Currency       string `json:"currency"`
	SellerAddress  string `json:"seller_address"` // payee for this item's revenue
}

// Catalog resolves content items. Implementations must return an error
// satisfying errors.Is(err, ErrNotFound) for unknown IDs.
type Catalog interface {
	GetItem(ctx context.Context, contentID string) (*Item, error)
}
