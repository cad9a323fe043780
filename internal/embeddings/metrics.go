package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/articler/docindex/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/articler/docindex/internal/embeddings"

// Metrics holds embedding instruments.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider. Instruments
// that fail to register are left nil and skipped.
func NewMetrics(logger *logging.Logger) *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	m.duration, err = meter.Float64Histogram(
		"docindex.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls by provider, model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"docindex.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"docindex.embedding.errors_total",
		metric.WithDescription("Embedding call failures by provider, model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create errors counter", zap.Error(err))
	}
	return m
}

// Record records one embedding call.
func (m *Metrics) Record(ctx context.Context, attrs []attribute.KeyValue, d time.Duration, batch int, err error) {
	opt := metric.WithAttributes(attrs...)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), opt)
	}
	if batch > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), opt)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, opt)
	}
}

// instrumented traces and measures calls and rejects vectors whose length
// differs from the provider's dimension.
type instrumented struct {
	Provider
	provider string
	model    string
	metrics  *Metrics
	tracer   trace.Tracer
}

// Instrument wraps p with tracing, metrics and dimension checking.
func Instrument(p Provider, provider, model string, logger *logging.Logger) Provider {
	if logger == nil {
		logger = logging.Nop()
	}
	return &instrumented{
		Provider: p,
		provider: provider,
		model:    model,
		metrics:  NewMetrics(logger),
		tracer:   otel.Tracer("docindex.embeddings"),
	}
}

func (i *instrumented) attrs(op string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("provider", i.provider),
		attribute.String("model", i.model),
		attribute.String("operation", op),
	}
}

func (i *instrumented) checkDimension(v []float32) error {
	if len(v) != i.Dimension() {
		return fmt.Errorf("%w: got %d dimensions, expected %d", ErrEmbeddingFailed, len(v), i.Dimension())
	}
	return nil
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) (_ [][]float32, err error) {
	attrs := i.attrs("embed_documents")
	ctx, span := i.tracer.Start(ctx, "embeddings.EmbedDocuments", trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()
	defer func() {
		i.metrics.Record(ctx, attrs, time.Since(start), len(texts), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embed documents failed")
		}
	}()

	vectors, err := i.Provider.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for _, v := range vectors {
		if err := i.checkDimension(v); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.Int("vector_count", len(vectors)))
	return vectors, nil
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) (_ []float32, err error) {
	attrs := i.attrs("embed_query")
	ctx, span := i.tracer.Start(ctx, "embeddings.EmbedQuery", trace.WithAttributes(attrs...))
	defer span.End()
	start := time.Now()
	defer func() {
		i.metrics.Record(ctx, attrs, time.Since(start), 1, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "embed query failed")
		}
	}()

	vector, err := i.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := i.checkDimension(vector); err != nil {
		return nil, err
	}
	return vector, nil
}
