// Package export writes vetted venue data to spreadsheet workbooks for
// downstream review.
package export

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/gatherstone/venuescout/internal/model"
	"github.com/gatherstone/venuescout/internal/store"
)

// Options narrows which venues end up in the workbook.
type Options struct {
	// EnrichedOnly drops venues that never produced a validated extraction.
	EnrichedOnly bool
	// Status limits the export to one pre-vetting bucket; empty means all.
	Status model.PrevetStatus
}

var venueHeader = []string{
	"external_id", "name", "homepage", "lat", "lon",
	"prevet_status", "matched_keywords",
	"is_wedding_venue", "is_estate", "is_historic",
	"has_lodging", "lodging_capacity", "pricing_tier",
	"image_count", "logo_verified",
}

// WriteWorkbook pages through the store and writes a workbook with a Venues
// sheet and a Summary sheet to path. It returns the number of venue rows
// written.
func WriteWorkbook(ctx context.Context, st store.Store, path string, opts Options) (int, error) {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Venues")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}
	writeHeader(sheet)

	const pageSize = 500
	written := 0
	for offset := 0; ; offset += pageSize {
		venues, err := st.ListVenues(ctx, store.VenueFilter{
			PrevetStatus: opts.Status,
			ActiveOnly:   true,
			Limit:        pageSize,
			Offset:       offset,
		})
		if err != nil {
			return written, eris.Wrap(err, "export: list venues")
		}
		if len(venues) == 0 {
			break
		}
		for i := range venues {
			if opts.EnrichedOnly && venues[i].Enrichment.IsDefault() {
				continue
			}
			writeVenueRow(sheet, &venues[i])
			written++
		}
		if len(venues) < pageSize {
			break
		}
	}

	if err := addSummarySheet(ctx, f, st); err != nil {
		return written, err
	}

	if err := f.Save(path); err != nil {
		return written, eris.Wrapf(err, "export: save %s", path)
	}

	zap.L().Info("export: workbook written",
		zap.String("path", path),
		zap.Int("venues", written),
	)
	return written, nil
}

func writeHeader(sheet *xlsx.Sheet) {
	row := sheet.AddRow()
	for _, h := range venueHeader {
		row.AddCell().SetString(h)
	}
}

func writeVenueRow(sheet *xlsx.Sheet, v *model.Venue) {
	row := sheet.AddRow()
	row.AddCell().SetString(v.ExternalID)
	row.AddCell().SetString(v.Name)
	row.AddCell().SetString(v.Homepage)
	row.AddCell().SetFloat(v.Point.Lat)
	row.AddCell().SetFloat(v.Point.Lon)
	row.AddCell().SetString(string(v.PrevetStatus))
	row.AddCell().SetString(strings.Join(v.MatchedKeywords, ", "))
	row.AddCell().SetBool(v.Enrichment.IsWeddingVenue)
	row.AddCell().SetBool(v.Enrichment.IsEstate)
	row.AddCell().SetBool(v.Enrichment.IsHistoric)
	row.AddCell().SetBool(v.Enrichment.HasLodging)
	row.AddCell().SetInt(v.Enrichment.LodgingCapacity)
	row.AddCell().SetString(string(v.Enrichment.PricingTier))
	row.AddCell().SetInt(len(v.Images.Paths))
	row.AddCell().SetBool(v.Images.LogoVerified)
}

func addSummarySheet(ctx context.Context, f *xlsx.File, st store.Store) error {
	counts, err := st.Count(ctx)
	if err != nil {
		return eris.Wrap(err, "export: count")
	}

	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addKV := func(key string, value int) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetInt(value)
	}

	addKV("venues", counts.Venues)
	addKV("tiles_collected", counts.Tiles)
	addKV("enriched", counts.Enriched)
	for _, status := range []model.PrevetStatus{
		model.PrevetPending, model.PrevetYes, model.PrevetNo, model.PrevetNeedsConfirmation,
	} {
		addKV("prevet_"+string(status), counts.Prevet[status])
	}
	return nil
}
