package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
	"github.com/gatherstone/venuescout/pkg/anthropic"
)

const enrichSystemPrompt = `You are a data extraction assistant for a venue
database. Given the text of a venue's website, answer with a single JSON
object and nothing else. The object has exactly these fields:

  "is_wedding_venue": boolean - the venue hosts weddings
  "is_estate": boolean - the venue is an estate or country house property
  "is_historic": boolean - the venue is a historic building or site
  "has_lodging": boolean - guests can stay overnight on site
  "lodging_capacity": integer - number of guests that can stay overnight, 0 if none or unknown
  "pricing_tier": one of "low", "medium", "high", "luxury", "unknown"

Base every answer only on the provided text. When the text is silent on a
field, use false, 0, or "unknown".`

// EnrichStage runs the fixed five-field extraction over each crawled
// document. The model is seeded with an opening brace so it completes a JSON
// object instead of prose; a failed parse retries with a slightly higher
// temperature. Venues run one at a time: the API is the bottleneck and
// sequential calls keep retries observable.
type EnrichStage struct{}

func (s *EnrichStage) Name() string { return "enrich" }

func (s *EnrichStage) Run(ctx context.Context, env *Env) (*StageResult, error) {
	venues, err := listAll(ctx, env.Store, store.VenueFilter{PrevetStatus: model.PrevetYes, ActiveOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: list venues")
	}

	result := &StageResult{}
	for _, venue := range venues {
		if ctx.Err() != nil {
			return result, eris.Wrap(ctx.Err(), "enrich: cancelled")
		}
		if venue.Document == "" || !venue.Enrichment.IsDefault() {
			result.Skipped++
			continue
		}

		enrichment, err := s.extract(ctx, env, venue)
		if err != nil {
			// The venue keeps its default enrichment; nothing to roll back.
			env.ReportError(ctx, s.Name(), venue.ID, err)
			result.Failed++
			continue
		}

		if err := env.Store.SetEnrichment(ctx, venue.ID, *enrichment); err != nil {
			return result, eris.Wrapf(err, "enrich: persist %s", venue.ID)
		}
		result.Processed++
	}
	return result, nil
}

func (s *EnrichStage) extract(ctx context.Context, env *Env, venue model.Venue) (*model.Enrichment, error) {
	doc := venue.Document
	if max := env.Cfg.Enrich.MaxDocChars; max > 0 && len(doc) > max {
		doc = doc[:max]
	}

	var lastErr error
	for attempt := 0; attempt < env.Cfg.Enrich.MaxAttempts; attempt++ {
		temp := env.Cfg.Enrich.BaseTemperature + float64(attempt)*env.Cfg.Enrich.TemperatureStep

		resp, err := env.Anthropic.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       env.Cfg.Anthropic.Model,
			MaxTokens:   int64(env.Cfg.Anthropic.MaxTokens),
			System:      enrichSystemPrompt,
			Temperature: &temp,
			Messages: []anthropic.Message{
				{Role: "user", Content: "Venue: " + venue.Name + "\n\nWebsite text:\n\n" + doc},
				{Role: "assistant", Content: "{"},
			},
		})
		if err != nil {
			lastErr = eris.Wrap(err, "enrich: create message")
			continue
		}

		// The prefilled opening brace is part of the object but not part of
		// the response text.
		enrichment, err := ParseEnrichment("{" + resp.Text())
		if err != nil {
			zap.L().Debug("enrich: attempt failed",
				zap.String("venue_id", venue.ID),
				zap.Int("attempt", attempt+1),
				zap.Float64("temperature", temp),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		return enrichment, nil
	}
	return nil, eris.Wrapf(lastErr, "enrich: no valid extraction after %d attempts", env.Cfg.Enrich.MaxAttempts)
}

// enrichmentPayload mirrors the schema with pointer fields so missing keys
// are distinguishable from explicit false/zero.
type enrichmentPayload struct {
	IsWeddingVenue  *bool   `json:"is_wedding_venue"`
	IsEstate        *bool   `json:"is_estate"`
	IsHistoric      *bool   `json:"is_historic"`
	HasLodging      *bool   `json:"has_lodging"`
	LodgingCapacity *int    `json:"lodging_capacity"`
	PricingTier     *string `json:"pricing_tier"`
}

// ParseEnrichment repairs, parses, and validates a model response against the
// extraction schema. All six fields must be present and well-typed.
func ParseEnrichment(text string) (*model.Enrichment, error) {
	repaired := RepairJSON(text)

	var p enrichmentPayload
	if err := json.Unmarshal([]byte(repaired), &p); err != nil {
		return nil, eris.Wrap(err, "enrich: parse response")
	}

	var missing []string
	for name, ok := range map[string]bool{
		"is_wedding_venue": p.IsWeddingVenue != nil,
		"is_estate":        p.IsEstate != nil,
		"is_historic":      p.IsHistoric != nil,
		"has_lodging":      p.HasLodging != nil,
		"lodging_capacity": p.LodgingCapacity != nil,
		"pricing_tier":     p.PricingTier != nil,
	} {
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("enrich: missing fields: %s", strings.Join(missing, ", "))
	}
	if *p.LodgingCapacity < 0 {
		return nil, eris.Errorf("enrich: negative lodging_capacity %d", *p.LodgingCapacity)
	}
	if !model.ValidPricingTier(*p.PricingTier) {
		return nil, eris.Errorf("enrich: invalid pricing_tier %q", *p.PricingTier)
	}

	now := time.Now().UTC()
	return &model.Enrichment{
		IsWeddingVenue:  *p.IsWeddingVenue,
		IsEstate:        *p.IsEstate,
		IsHistoric:      *p.IsHistoric,
		HasLodging:      *p.HasLodging,
		LodgingCapacity: *p.LodgingCapacity,
		PricingTier:     model.PricingTier(*p.PricingTier),
		ExtractedAt:     &now,
	}, nil
}
