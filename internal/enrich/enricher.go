package enrich

import (
	"context"
	"sort"

	"jobmate/scrape-service/internal/logging"
	"jobmate/scrape-service/internal/scrapejob"
)

// Enricher implements scrapejob.Enricher with local text heuristics: contact
// emails are read from the listing description and jobs are ranked against
// the user's resume when one was supplied.
type Enricher struct {
	log *logging.Logger
}

// New returns an Enricher. A nil logger discards output.
func New(log *logging.Logger) *Enricher {
	if log == nil {
		log = logging.NewNop()
	}
	return &Enricher{log: log.With("component", "enricher")}
}

// Enrich attaches contacts and a match score to every listing. With a
// resume, jobs are ordered by descending score; ties keep provider order.
func (e *Enricher) Enrich(ctx context.Context, listings []scrapejob.Listing, resumeText string) ([]scrapejob.EnrichedJob, error) {
	resume := tokens(resumeText)

	jobs := make([]scrapejob.EnrichedJob, 0, len(listings))
	for i, l := range listings {
		if i%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		emails := ExtractEmails(l.Description)
		jobs = append(jobs, scrapejob.EnrichedJob{
			Listing:    l,
			Emails:     emails,
			HasContact: len(emails) > 0,
			MatchScore: MatchScore(l.Title, l.Description, resume),
		})
	}

	if len(resume) > 0 {
		sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].MatchScore > jobs[j].MatchScore })
	}
	e.log.Debug("listings enriched", "jobs", len(jobs), "ranked", len(resume) > 0)
	return jobs, nil
}

var _ scrapejob.Enricher = (*Enricher)(nil)
