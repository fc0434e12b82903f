// Package enrich implements the filter and contact-enrichment stages of a
// scrape job.
package enrich

import (
	"context"
	"strings"

	"jobmate/scrape-service/internal/scrapejob"
)

// ContainsExcluded reports whether any exclude term appears (case-insensitive)
// in the combined title, company and description of a listing.
func ContainsExcluded(l scrapejob.Listing, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(l.Title + " " + l.Company + " " + l.Description)
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// Reasons reported by ShouldKeep.
const (
	ReasonNoKeywordMatch = "no_keyword_match"
	ReasonWorkType       = "work_type"
	ReasonExcluded       = "excluded"
)

var onsiteMarkers = []string{"on-site", "onsite", "on site", "in office", "in-office"}

// ShouldKeep decides whether a listing is relevant to the search. The work
// type check runs first, then the keyword match, then exclude terms.
func ShouldKeep(l scrapejob.Listing, params scrapejob.SearchParams) (keep bool, reason string) {
	if !passesWorkType(l, params.WorkType) {
		return false, ReasonWorkType
	}
	if !matchesKeyword(l, params.Keyword) {
		return false, ReasonNoKeywordMatch
	}
	if ContainsExcluded(l, params.ExcludeTerms) {
		return false, ReasonExcluded
	}
	return true, ""
}

// matchesKeyword requires at least one keyword word in the title or
// description. A keyword with no meaningful words matches everything.
func matchesKeyword(l scrapejob.Listing, keyword string) bool {
	want := tokens(keyword)
	if len(want) == 0 {
		return true
	}
	have := tokens(l.Title + " " + l.Description)
	for w := range want {
		if _, ok := have[w]; ok {
			return true
		}
	}
	return false
}

// passesWorkType drops remote searches' listings that are explicitly on-site
// and onsite searches' listings located "remote". The provider already
// filters by work type, so silence counts as a match.
func passesWorkType(l scrapejob.Listing, wt scrapejob.WorkType) bool {
	loc := strings.ToLower(strings.TrimSpace(l.Location))
	text := strings.ToLower(l.Title + " " + l.Location + " " + l.Description)
	isRemote := strings.Contains(text, "remote")

	switch wt {
	case scrapejob.WorkTypeRemote:
		if isRemote {
			return true
		}
		for _, m := range onsiteMarkers {
			if strings.Contains(text, m) {
				return false
			}
		}
		return true
	case scrapejob.WorkTypeOnsite:
		return !strings.Contains(loc, "remote")
	}
	return true
}

// dedupeKey identifies a listing across repeated provider pages.
func dedupeKey(l scrapejob.Listing) string {
	if u := strings.TrimSpace(l.URL); u != "" {
		if i := strings.IndexByte(u, '?'); i >= 0 {
			u = u[:i]
		}
		return "url:" + strings.ToLower(strings.TrimRight(u, "/"))
	}
	if l.ExternalID != "" {
		return "id:" + l.ExternalID
	}
	return "tc:" + strings.ToLower(l.Title+"|"+l.Company)
}

// Filter drops untitled, duplicate and irrelevant listings and caps the
// result at the requested job count. Order is preserved.
func (e *Enricher) Filter(ctx context.Context, raw []scrapejob.Listing, params scrapejob.SearchParams) ([]scrapejob.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]scrapejob.Listing, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	var untitled, dupes int
	dropped := make(map[string]int)

	for _, l := range raw {
		if strings.TrimSpace(l.Title) == "" {
			untitled++
			continue
		}
		key := dedupeKey(l)
		if _, ok := seen[key]; ok {
			dupes++
			continue
		}
		seen[key] = struct{}{}
		if keep, reason := ShouldKeep(l, params); !keep {
			dropped[reason]++
			continue
		}
		out = append(out, l)
		if params.JobCount > 0 && len(out) == params.JobCount {
			break
		}
	}

	e.log.Debug("listings filtered", "in", len(raw), "out", len(out),
		"untitled", untitled, "duplicates", dupes,
		"noKeywordMatch", dropped[ReasonNoKeywordMatch],
		"workType", dropped[ReasonWorkType],
		"excluded", dropped[ReasonExcluded])
	return out, nil
}
