package store

import (
	"encoding/json"
	"fmt"

	"jobmate/scrape-service/internal/scrapejob"
)

// activeStatuses is the SQL list of non-terminal statuses.
const activeStatuses = `('pending', 'processing', 'filtering', 'enriching')`

// jsonArg encodes v for a nullable JSON column; a nil value stays NULL.
func jsonArg[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func listingsArg(l []scrapejob.Listing) (any, error) {
	if l == nil {
		return nil, nil
	}
	return jsonArg(&l)
}

// updateArgs encodes the optional columns of an Update in column order:
// raw_results, filtered_results, enriched_results, error_message, provider_handle.
func updateArgs(u scrapejob.Update) ([]any, error) {
	raw, err := listingsArg(u.RawResults)
	if err != nil {
		return nil, fmt.Errorf("encode raw_results: %w", err)
	}
	filtered, err := listingsArg(u.FilteredResults)
	if err != nil {
		return nil, fmt.Errorf("encode filtered_results: %w", err)
	}
	enriched, err := jsonArg(u.EnrichedResults)
	if err != nil {
		return nil, fmt.Errorf("encode enriched_results: %w", err)
	}
	var msg, handle any
	if u.ErrorMessage != nil {
		msg = *u.ErrorMessage
	}
	if u.ProviderHandle != nil {
		handle = *u.ProviderHandle
	}
	return []any{raw, filtered, enriched, msg, handle}, nil
}

// rawRow holds the encoded columns of a scrape_jobs row.
type rawRow struct {
	params, raw, filtered, enriched []byte
	status                          string
	errorMessage                    *string
}

func (r rawRow) decode(req *scrapejob.JobRequest) error {
	st, err := scrapejob.ParseStatus(r.status)
	if err != nil {
		return err
	}
	req.Status = st
	req.ErrorMessage = r.errorMessage

	if err := json.Unmarshal(r.params, &req.SearchParams); err != nil {
		return fmt.Errorf("decode search_params: %w", err)
	}
	if r.raw != nil {
		if err := json.Unmarshal(r.raw, &req.RawResults); err != nil {
			return fmt.Errorf("decode raw_results: %w", err)
		}
	}
	if r.filtered != nil {
		if err := json.Unmarshal(r.filtered, &req.FilteredResults); err != nil {
			return fmt.Errorf("decode filtered_results: %w", err)
		}
	}
	if r.enriched != nil {
		var er scrapejob.EnrichedResults
		if err := json.Unmarshal(r.enriched, &er); err != nil {
			return fmt.Errorf("decode enriched_results: %w", err)
		}
		req.EnrichedResults = &er
	}
	return nil
}
