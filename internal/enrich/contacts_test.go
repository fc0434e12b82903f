package enrich_test

import (
	"context"
	"reflect"
	"testing"

	"jobmate/scrape-service/internal/enrich"
	"jobmate/scrape-service/internal/scrapejob"
)

func TestExtractEmails(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{"none", "Apply on our careers page.", []string{}},
		{"single", "Send your CV to Jobs@Acme.io.", []string{"jobs@acme.io"}},
		{"dedupe keeps order", "hr@a.com, cto@a.com or HR@a.com", []string{"hr@a.com", "cto@a.com"}},
		{"noreply dropped", "noreply@a.com no-reply+x@a.com talent@a.com", []string{"talent@a.com"}},
		{"image asset dropped", "<img src=logo@2x.png> people@b.org", []string{"people@b.org"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := enrich.ExtractEmails(tc.text); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("ExtractEmails(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestEnrich_NoResumeKeepsOrder(t *testing.T) {
	listings := []scrapejob.Listing{
		{ExternalID: "1", Title: "Go Engineer", Description: "reach me at dev@x.com"},
		{ExternalID: "2", Title: "Java Engineer"},
	}
	jobs, err := enrich.New(nil).Enrich(context.Background(), listings, "")
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ExternalID != "1" || jobs[1].ExternalID != "2" {
		t.Fatalf("Enrich reordered jobs without a resume: %+v", jobs)
	}
	if !jobs[0].HasContact || jobs[0].Emails[0] != "dev@x.com" {
		t.Errorf("jobs[0] contacts = %v, want dev@x.com", jobs[0].Emails)
	}
	if jobs[1].HasContact {
		t.Errorf("jobs[1].HasContact = true, want false")
	}
	if jobs[0].MatchScore != 0 {
		t.Errorf("MatchScore without resume = %d, want 0", jobs[0].MatchScore)
	}
}

func TestEnrich_RanksByResume(t *testing.T) {
	listings := []scrapejob.Listing{
		{ExternalID: "java", Title: "Java Developer", Description: "Spring Hibernate"},
		{ExternalID: "go", Title: "Go Developer", Description: "Kubernetes Postgres"},
	}
	resume := "Five years of Go, Kubernetes and Postgres."
	jobs, err := enrich.New(nil).Enrich(context.Background(), listings, resume)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if jobs[0].ExternalID != "go" {
		t.Errorf("top job = %q, want go", jobs[0].ExternalID)
	}
	if jobs[0].MatchScore <= jobs[1].MatchScore {
		t.Errorf("scores go=%d java=%d, want go higher", jobs[0].MatchScore, jobs[1].MatchScore)
	}
}

func TestMatchScore_Bounds(t *testing.T) {
	if got := enrich.MatchScore("Go", "", nil); got != 0 {
		t.Errorf("MatchScore with empty resume = %d, want 0", got)
	}
	resume := map[string]struct{}{"go": {}, "kubernetes": {}}
	if got := enrich.MatchScore("Go", "Kubernetes", resume); got != 100 {
		t.Errorf("MatchScore full overlap = %d, want 100", got)
	}
}
