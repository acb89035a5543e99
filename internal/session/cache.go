package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cache is a best-effort key/value cache. Implementations never report errors: a failed
// read is a miss and a failed write or delete is a no-op.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

const DefaultListTTL = 300 * time.Second

// ListKey holds the owner's session summaries.
func ListKey(ownerID uint64) string {
	return fmt.Sprintf("sessions:%d", ownerID)
}

// EntityKey holds one full session.
func EntityKey(sessionID string, ownerID uint64) string {
	return fmt.Sprintf("session:%s:%d", sessionID, ownerID)
}

type nopCache struct{}

func (nopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (nopCache) Set(context.Context, string, []byte, time.Duration) {}
func (nopCache) Delete(context.Context, ...string) {}

const instrumentationName = "github.com/suPer8Hu/ui-studio/internal/session"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)

	cacheLookups, _ = meter.Int64Counter("session.cache.lookups",
		metric.WithDescription("Cache lookups by key family and result"))
	generationDuration, _ = meter.Float64Histogram("session.generation.duration",
		metric.WithDescription("Generation call latency"),
		metric.WithUnit("ms"))
)

func recordLookup(ctx context.Context, family string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("family", family),
		attribute.String("result", result),
	))
}
