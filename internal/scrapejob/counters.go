package scrapejob

import "github.com/cespare/xxhash/v2"

const (
	displayTotalFloor  = 50
	displayTotalSpread = 451
)

// DisplayTotal returns the "total jobs found" figure shown for a request.
// When the provider reports a real total it is used as-is (but never below
// the number of jobs actually returned). Otherwise the figure is derived
// from a hash of the request id so every read of the same request shows the
// same number.
func DisplayTotal(requestID string, jobs, reported int) int {
	if jobs == 0 && reported <= 0 {
		return 0
	}
	if reported > 0 {
		return max(reported, jobs)
	}
	return jobs + displayTotalFloor + int(xxhash.Sum64String(requestID)%displayTotalSpread)
}

// BuildResults assembles the enriched payload and its derived counters.
// Jobs past freeVisible (when positive) are marked locked and their emails
// are withheld.
func BuildResults(requestID string, jobs []EnrichedJob, reported, freeVisible int) EnrichedResults {
	out := make([]EnrichedJob, len(jobs))
	contacts := 0
	for i, j := range jobs {
		j.HasContact = len(j.Emails) > 0
		if j.HasContact {
			contacts++
		}
		if freeVisible > 0 && i >= freeVisible {
			j.Locked = true
			j.Emails = []string{}
		}
		if j.Emails == nil {
			j.Emails = []string{}
		}
		out[i] = j
	}

	unlocked := len(out)
	if freeVisible > 0 && unlocked > freeVisible {
		unlocked = freeVisible
	}
	total := DisplayTotal(requestID, len(out), reported)

	return EnrichedResults{
		Jobs:           out,
		TotalJobsFound: total,
		ContactsFound:  contacts,
		LockedJobs:     total - unlocked,
	}
}
