package generation

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/AdamBeresnev/parlor/internal/generation"

// Orchestrator walks the provider chain until one produces an image. No step
// is retried here; providers own their retries.
type Orchestrator struct {
	highFidelity ImageProvider
	primary      ImageProvider
	standard     ImageProvider
	tracer       trace.Tracer
}

// NewOrchestrator wires the chain. Any provider may be nil.
func NewOrchestrator(highFidelity, primary, standard ImageProvider) *Orchestrator {
	return &Orchestrator{
		highFidelity: highFidelity,
		primary:      primary,
		standard:     standard,
		tracer:       otel.Tracer(tracerName),
	}
}

// Chain lists the providers a request will try, in order.
func (o *Orchestrator) Chain(req ImageRequest) []ImageProvider {
	var steps []ImageProvider
	if req.PreferHighFidelity {
		steps = append(steps, o.highFidelity)
	}
	steps = append(steps, o.primary, o.standard, o.highFidelity)

	chain := steps[:0]
	for _, p := range steps {
		if enabled(p) {
			chain = append(chain, p)
		}
	}
	return chain
}

func (o *Orchestrator) GenerateImage(ctx context.Context, req ImageRequest) Result {
	chain := o.Chain(req)
	if len(chain) == 0 {
		return Result{Err: ErrNoProviders}
	}

	var last Result
	for i, p := range chain {
		if err := ctx.Err(); err != nil {
			return failure(p.Name(), err)
		}

		last = o.attempt(ctx, p, req, i)
		if last.OK() {
			return last
		}
		slog.Warn("image provider failed", "provider", p.Name(), "step", i+1, "error", last.Err)
	}
	return last
}

func (o *Orchestrator) attempt(ctx context.Context, p ImageProvider, req ImageRequest, step int) Result {
	ctx, span := o.tracer.Start(ctx, "generation.image", trace.WithAttributes(
		attribute.String("generation.provider", p.Name()),
		attribute.Int("generation.step", step+1),
		attribute.Bool("generation.has_reference", req.ReferenceURL != ""),
	))
	defer span.End()

	res := p.Generate(ctx, req)
	if !res.OK() {
		if res.Err != nil {
			span.RecordError(res.Err)
		}
		span.SetStatus(codes.Error, "no image")
		return res
	}
	span.SetAttributes(attribute.Int("generation.bytes", len(res.Image.Data)))
	return res
}
