package scrapejob

import "time"

// WorkType is the workplace filter of a search.
type WorkType string

const (
	WorkTypeAny    WorkType = "any"
	WorkTypeOnsite WorkType = "onsite"
	WorkTypeRemote WorkType = "remote"
	WorkTypeHybrid WorkType = "hybrid"
)

// SearchParams are the normalized criteria captured when a request is created.
// They are never modified afterwards; re-running a search creates a new request.
type SearchParams struct {
	Keyword      string   `json:"keyword" validate:"required"`
	Location     string   `json:"location" validate:"required"`
	WorkType     WorkType `json:"workType" validate:"required,oneof=any onsite remote hybrid"`
	JobCount     int      `json:"jobCount" validate:"min=1"`
	ResumeText   string   `json:"resumeText,omitempty"`
	ExcludeTerms []string `json:"excludeTerms,omitempty" validate:"max=20,dive,max=64"`
}

// Listing is one job posting as returned by the scrape provider.
type Listing struct {
	ExternalID  string `json:"externalId"`
	Title       string `json:"title"`
	Company     string `json:"company"`
	Location    string `json:"location"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	PostedAt    string `json:"postedAt,omitempty"`
	Salary      string `json:"salary,omitempty"`
}

// EnrichedJob is a filtered listing with discovered contact information.
type EnrichedJob struct {
	Listing
	Emails     []string `json:"emails"`
	HasContact bool     `json:"hasContact"`
	MatchScore int      `json:"matchScore"`
	Locked     bool     `json:"locked"`
}

// EnrichedResults is the final payload of a completed request.
type EnrichedResults struct {
	Jobs           []EnrichedJob `json:"jobs"`
	TotalJobsFound int           `json:"totalJobsFound"`
	ContactsFound  int           `json:"contactsFound"`
	LockedJobs     int           `json:"lockedJobs"`
}

// JobRequest is the persisted record of one search-and-enrich operation.
type JobRequest struct {
	ID              string
	UserID          string
	SearchParams    SearchParams
	Status          Status
	RawResults      []Listing
	FilteredResults []Listing
	EnrichedResults *EnrichedResults
	ErrorMessage    *string
	AbortRequested  bool
	ProviderHandle  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Update carries the columns written alongside a status transition.
// Nil fields are left untouched.
type Update struct {
	RawResults      []Listing
	FilteredResults []Listing
	EnrichedResults *EnrichedResults
	ErrorMessage    *string
	ProviderHandle  *string
}

// StatusEvent is emitted after every successful transition.
type StatusEvent struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	UserID    string    `json:"userId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	At        time.Time `json:"at"`
}

// EventStatusChanged is the StatusEvent type and Redis channel name.
const EventStatusChanged = "EVENT_SCRAPE_STATUS"
