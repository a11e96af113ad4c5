package payment

import (
	"context"
	"io"
	"time"
)

// URLValidator decides whether a URL may be rendered.
type URLValidator interface {
	Validate(rawURL string) ValidationVerdict
}

// ResultCache stores parse results keyed by the exact input URL.
type ResultCache interface {
	Get(rawURL string) (ParseResult, bool)
	Set(rawURL string, result ParseResult)
	Stats() CacheStats
	Clear() int
}

// RateLimiter caps request volume per client identity.
type RateLimiter interface {
	Check(ctx context.Context, clientID string) (RateDecision, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes result notifications to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ResultStore persists pipeline outcomes for auditing.
type ResultStore interface {
	StoreResult(ctx context.Context, record ResultRecord) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}
