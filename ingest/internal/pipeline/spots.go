package pipeline

import (
	"context"

	"github.com/hazyhaar/tripsync/ingest/internal/dedup"
	"github.com/hazyhaar/tripsync/ingest/internal/extract"
	"github.com/hazyhaar/tripsync/ingest/internal/model"
)

// SyncSpotSource validates src, extracts its places and normalizes them
// into spots. Without an extraction key the source is skipped and reports
// nothing; callers fall back to the static places.
func (p *Pipeline) SyncSpotSource(ctx context.Context, src model.Source) SpotResult {
	log := p.logger.With("source_id", src.ID, "url", src.URL, "handler", "spots")
	if p.extractor == nil || !p.extractor.Enabled() {
		log.Debug("spots: extraction disabled, source skipped")
		return SpotResult{}
	}
	check := p.validate(ctx, src.URL)
	if !check.OK {
		log.Warn("pipeline: source rejected", "reason", check.Message)
		return SpotResult{Errors: []model.IngestionError{
			model.NewIngestionError(src, model.StageSourceValidation, "", check.Message),
		}}
	}
	data, err := p.extractor.Extract(ctx, []string{check.CanonicalURL}, extract.PlacePrompt, extract.PlaceSchema)
	if err != nil {
		log.Warn("spots: extract failed", "error", err)
		return SpotResult{Errors: []model.IngestionError{
			model.NewIngestionError(src, model.StageFirecrawl, "", err.Error()),
		}}
	}
	spots := dedup.NormalizeSpots(extract.ParsePlaces(data), src)
	log.Info("spots: extracted", "spots", len(spots))
	return SpotResult{Spots: spots}
}
