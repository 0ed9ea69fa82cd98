package credit

import "context"

// Store is the stream credit persistence interface. Add and Consume are
// atomic per (viewer, content) key: two concurrent consumers of the same
// balance can never both succeed on the last increment.
type Store interface {
	Get(ctx context.Context, viewerID, contentID string) (*StreamCredit, error)

	// Add creates the credit row lazily and increments it, returning the
	// updated balance.
	Add(ctx context.Context, viewerID, contentID string, seconds int64) (*StreamCredit, error)

	// Consume decrements the balance if and only if it covers seconds.
	// Returns the resulting balance and whether the decrement happened.
	Consume(ctx context.Context, viewerID, contentID string, seconds int64) (*StreamCredit, bool, error)
}
