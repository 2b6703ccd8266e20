package pipeline

import (
	"bytes"
	"os"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/gatherstone/venuescout/internal/model"
)

// defaultKeywords are the vetting phrases matched against homepage text.
// Phrases are matched after normalization, so case and diacritics don't
// matter.
var defaultKeywords = []string{
	"wedding venue",
	"weddings",
	"wedding receptions",
	"civil ceremony",
	"ceremony",
	"exclusive hire",
	"event hire",
	"banquet",
	"bridal suite",
	"marquee",
	"country estate",
	"historic estate",
	"manor house",
	"country house",
	"accommodation",
	"guest rooms",
	"overnight stay",
	"private events",
	"corporate events",
	"celebrations",
}

// keywordFile is the YAML shape of an optional keyword override file.
type keywordFile struct {
	Keywords []string `yaml:"keywords"`
}

// LoadKeywords reads a keyword override file; an empty path returns the
// default list.
func LoadKeywords(path string) ([]string, error) {
	if path == "" {
		return defaultKeywords, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "prevet: read keywords file %s", path)
	}

	var kf keywordFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, eris.Wrapf(err, "prevet: parse keywords file %s", path)
	}
	if len(kf.Keywords) == 0 {
		return nil, eris.Errorf("prevet: keywords file %s lists no keywords", path)
	}
	return kf.Keywords, nil
}

// stripDiacritics removes combining marks after NFKD decomposition.
var stripDiacritics = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// normalizeText lowercases, strips diacritics, and collapses whitespace so
// keyword phrases match across formatting variants ("Château" vs "chateau",
// line-wrapped phrases, etc).
func normalizeText(s string) string {
	out, _, err := transform.String(stripDiacritics, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

// salientText extracts the parts of a homepage that identify the business:
// the title, the meta description, and the H1/H2 headings, markup stripped.
// Body copy is deliberately left out; keyword hits buried in paragraphs or
// scripts say little about what the site is for.
func salientText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "prevet: parse homepage html")
	}

	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	add(doc.Find("title").First().Text())
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		add(desc)
	}
	doc.Find("h1, h2").Each(func(_ int, sel *goquery.Selection) {
		add(sel.Text())
	})
	return strings.Join(parts, "\n"), nil
}

// matchKeywords returns the keywords found in the text.
func matchKeywords(text string, keywords []string) []string {
	normalized := normalizeText(text)
	var matched []string
	for _, kw := range keywords {
		if strings.Contains(normalized, normalizeText(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// tagHeuristic reports whether the OSM tags alone mark a venue as promising:
// a dedicated events tag, or a historic estate-type building.
func tagHeuristic(tags model.Tags) bool {
	if tags.Amenity() == "events_venue" || tags.Amenity() == "conference_centre" {
		return true
	}
	switch tags.Historic() {
	case "manor", "castle", "estate", "country_house", "chateau", "palace":
		return true
	}
	switch tags.Building() {
	case "manor", "castle", "country_house":
		return true
	}
	return false
}
