package scrapejob

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// StartInput is the raw start-search body before normalization.
type StartInput struct {
	LinkedinURL  string   `json:"linkedinUrl"`
	Keyword      string   `json:"keyword"`
	Location     string   `json:"location"`
	WorkType     string   `json:"workType"`
	ResumeText   string   `json:"resumeText"`
	JobCount     *int     `json:"jobCount"`
	ExcludeTerms []string `json:"excludeTerms"`
}

// Limits bound the requested job count.
type Limits struct {
	DefaultJobCount int
	MaxJobCount     int
}

// DefaultLimits matches the product's default search size.
var DefaultLimits = Limits{DefaultJobCount: 100, MaxJobCount: 500}

// linkedInWorkTypes maps the f_WT query codes to work types.
var linkedInWorkTypes = map[string]WorkType{
	"1": WorkTypeOnsite,
	"2": WorkTypeRemote,
	"3": WorkTypeHybrid,
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize turns a StartInput into validated SearchParams. Explicit fields
// override values derived from the LinkedIn URL.
func Normalize(in StartInput, limits Limits) (SearchParams, error) {
	var p SearchParams
	if raw := strings.TrimSpace(in.LinkedinURL); raw != "" {
		fromURL, err := ParseLinkedInURL(raw)
		if err != nil {
			return SearchParams{}, &ValidationError{Msg: err.Error()}
		}
		p = fromURL
	}

	if v := strings.TrimSpace(in.Keyword); v != "" {
		p.Keyword = v
	}
	if v := strings.TrimSpace(in.Location); v != "" {
		p.Location = v
	}
	if v := strings.TrimSpace(in.WorkType); v != "" {
		wt, err := parseWorkType(v)
		if err != nil {
			return SearchParams{}, &ValidationError{Msg: err.Error()}
		}
		p.WorkType = wt
	}
	if p.WorkType == "" {
		p.WorkType = WorkTypeAny
	}

	p.JobCount = limits.DefaultJobCount
	if in.JobCount != nil {
		p.JobCount = *in.JobCount
	}
	p.ResumeText = strings.TrimSpace(in.ResumeText)
	for _, t := range in.ExcludeTerms {
		if t = strings.TrimSpace(t); t != "" {
			p.ExcludeTerms = append(p.ExcludeTerms, t)
		}
	}

	if err := validate.Struct(p); err != nil {
		return SearchParams{}, toValidationError(err)
	}
	if limits.MaxJobCount > 0 && p.JobCount > limits.MaxJobCount {
		return SearchParams{}, &ValidationError{
			Msg: fmt.Sprintf("jobCount must be at most %d", limits.MaxJobCount),
		}
	}
	return p, nil
}

// ParseLinkedInURL extracts search criteria from a LinkedIn jobs search URL.
func ParseLinkedInURL(raw string) (SearchParams, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return SearchParams{}, fmt.Errorf("linkedinUrl is not a valid URL")
	}
	host := strings.ToLower(u.Hostname())
	if host != "linkedin.com" && !strings.HasSuffix(host, ".linkedin.com") {
		return SearchParams{}, fmt.Errorf("linkedinUrl must point to linkedin.com")
	}

	q := u.Query()
	p := SearchParams{
		Keyword:  strings.TrimSpace(q.Get("keywords")),
		Location: strings.TrimSpace(q.Get("location")),
	}
	// f_WT may carry several comma-separated codes; the first one wins.
	if code, _, _ := strings.Cut(q.Get("f_WT"), ","); code != "" {
		wt, ok := linkedInWorkTypes[code]
		if !ok {
			return SearchParams{}, fmt.Errorf("linkedinUrl has unknown work type code %q", code)
		}
		p.WorkType = wt
	}
	return p, nil
}

// LinkedInSearchURL renders p as the LinkedIn jobs search URL handed to the
// scrape provider.
func (p SearchParams) LinkedInSearchURL() string {
	q := url.Values{}
	q.Set("keywords", p.Keyword)
	q.Set("location", p.Location)
	if code := p.WorkType.Code(); code != "" {
		q.Set("f_WT", code)
	}
	return "https://www.linkedin.com/jobs/search/?" + q.Encode()
}

// Code returns the LinkedIn f_WT code, or "" for WorkTypeAny.
func (w WorkType) Code() string {
	for code, wt := range linkedInWorkTypes {
		if wt == w {
			return code
		}
	}
	return ""
}

func parseWorkType(s string) (WorkType, error) {
	if wt, ok := linkedInWorkTypes[s]; ok {
		return wt, nil
	}
	switch wt := WorkType(strings.ToLower(s)); wt {
	case WorkTypeAny, WorkTypeOnsite, WorkTypeRemote, WorkTypeHybrid:
		return wt, nil
	case "on-site", "on_site":
		return WorkTypeOnsite, nil
	}
	return "", fmt.Errorf("workType must be one of any, onsite, remote, hybrid")
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Msg: err.Error()}
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return &ValidationError{Msg: field + " is required"}
	case "oneof":
		return &ValidationError{Msg: field + " must be one of " + fe.Param()}
	case "min":
		if field == "jobCount" {
			return &ValidationError{Msg: "jobCount must be positive"}
		}
		return &ValidationError{Msg: field + " must be at least " + fe.Param()}
	case "max":
		return &ValidationError{Msg: field + " must be at most " + fe.Param()}
	}
	return &ValidationError{Msg: fmt.Sprintf("%s is invalid", field)}
}
