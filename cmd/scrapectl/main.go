// scrapectl starts a scrape job against a running scrape service and polls
// it until it finishes. Ctrl-C aborts the job.
//
//	scrapectl -keyword "go developer" -location Paris -work-type remote
//	scrapectl -url "https://www.linkedin.com/jobs/search/?keywords=go&location=Paris"
//	scrapectl -get <requestId>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jobmate/scrape-service/pkg/client"
)

// cancelWaitTimeout bounds the poll after an abort. It exceeds the
// server's provider abort timeout.
const cancelWaitTimeout = 45 * time.Second

func main() {
	var (
		addr     = flag.String("addr", envOr("SCRAPE_ADDR", "http://localhost:8083"), "scrape service base URL")
		userID   = flag.String("user", os.Getenv("SCRAPE_USER_ID"), "x-user-id to send (Gateway mode)")
		token    = flag.String("token", os.Getenv("SCRAPE_TOKEN"), "session token (JWT mode)")
		getID    = flag.String("get", "", "poll an existing request instead of starting one")
		liURL    = flag.String("url", "", "LinkedIn jobs search URL")
		keyword  = flag.String("keyword", "", "search keyword")
		location = flag.String("location", "", "search location")
		workType = flag.String("work-type", "", "any, onsite, remote or hybrid")
		count    = flag.Int("count", 0, "number of jobs to request (0 = server default)")
		exclude  = flag.String("exclude", "", "comma-separated terms to exclude")
		resume   = flag.String("resume", "", "path to a plain-text resume")
		interval = flag.Duration("interval", 0, "poll interval (0 = server suggestion)")
		asJSON   = flag.Bool("json", false, "print the final snapshot as JSON")
	)
	flag.Parse()

	opts := []client.Option{client.WithHTTPClient(&http.Client{Timeout: 30 * time.Second})}
	if *userID != "" {
		opts = append(opts, client.WithUserID(*userID))
	}
	if *token != "" {
		opts = append(opts, client.WithToken(*token))
	}
	c, err := client.New(*addr, opts...)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := *getID
	if id == "" {
		req := client.StartRequest{
			LinkedinURL: *liURL,
			Keyword:     *keyword,
			Location:    *location,
			WorkType:    *workType,
		}
		if *count > 0 {
			req.JobCount = count
		}
		for _, t := range strings.Split(*exclude, ",") {
			if t = strings.TrimSpace(t); t != "" {
				req.ExcludeTerms = append(req.ExcludeTerms, t)
			}
		}
		if *resume != "" {
			b, err := os.ReadFile(*resume)
			if err != nil {
				fatal(err)
			}
			req.ResumeText = string(b)
		}

		if id, err = c.Start(ctx, req); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "started %s\n", id)
	}

	snap, err := c.Poll(ctx, id, *interval, func(s *client.Snapshot) {
		fmt.Fprintf(os.Stderr, "%s  %s\n", time.Now().Format("15:04:05"), s.Status)
	})
	if errors.Is(err, context.Canceled) {
		stop()
		fmt.Fprintf(os.Stderr, "aborting %s\n", id)
		snap, err = c.AbortAndWait(context.Background(), id, *interval, cancelWaitTimeout)
	}
	if err != nil {
		fatal(err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
		return
	}
	printSummary(snap)
}

func printSummary(s *client.Snapshot) {
	switch s.Status {
	case "failed":
		msg := ""
		if s.ErrorMessage != nil {
			msg = *s.ErrorMessage
		}
		fmt.Printf("failed: %s\n", msg)
		return
	case "cancelled":
		fmt.Println("cancelled")
		return
	}
	if s.EnrichedResults == nil {
		fmt.Println(s.Status)
		return
	}
	r := s.EnrichedResults
	fmt.Printf("%d jobs found, %d with contacts, %d locked\n", r.TotalJobsFound, r.ContactsFound, r.LockedJobs)
	for _, j := range r.Jobs {
		lock := ""
		if j.Locked {
			lock = " [locked]"
		}
		fmt.Printf("  %3d%%  %s @ %s (%s)%s\n", j.MatchScore, j.Title, j.Company, j.Location, lock)
		for _, e := range j.Emails {
			fmt.Printf("        %s\n", e)
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "scrapectl: %v\n", err)
	os.Exit(1)
}
