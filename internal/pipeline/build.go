package pipeline

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"corpus-pipeline/internal/artifact"
	"corpus-pipeline/internal/config"
	"corpus-pipeline/internal/langid"
)

// FromConfig builds an orchestrator with the lingua classifier and the
// configured artifact sink.
func FromConfig(ctx context.Context, cfg config.Config, source Source, log *zap.Logger) (*Orchestrator, error) {
	classifier, err := langid.NewLingua(cfg.Pipeline.Languages)
	if err != nil {
		return nil, errors.Wrap(err, "language classifier")
	}
	sink, err := artifact.New(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "artifact sink")
	}
	return New(source, sink, classifier, ParamsFromConfig(cfg.Pipeline), log)
}
