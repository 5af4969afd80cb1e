package embedding

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sentineld/sentineld/pkg/types"
)

var tracer = otel.Tracer("sentineld/embedding")

// TelemetryEmbedder is the outermost decorator in the chain: it records
// per-call duration, success/failure, and provider identity to an
// `embedder.embed` span (spec §4.2), then delegates to inner.
type TelemetryEmbedder struct {
	inner        Embedder
	providerName string
}

// NewTelemetryEmbedder wraps inner, tagging spans with providerName.
func NewTelemetryEmbedder(inner Embedder, providerName string) *TelemetryEmbedder {
	return &TelemetryEmbedder{inner: inner, providerName: providerName}
}

func (t *TelemetryEmbedder) Embed(ctx context.Context, text string) (types.Embedding, error) {
	ctx, span := tracer.Start(ctx, "embedder.embed", trace.WithAttributes(
		attribute.String("embedder.provider", t.providerName),
		attribute.Int("embedder.text_length", len(text)),
	))
	defer span.End()

	vec, err := t.inner.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("embedder.vector_length", len(vec)))
	return vec, nil
}
