package parley

import (
	"context"
	"net/http"
	"strings"
)

// Search runs a content search. A query ending in a space opts the request
// into AI search: AI is added to the effective type set even when absent from
// types. Without the trailing space AI is always stripped. The query itself
// is sent trimmed.
func (c *Client) Search(ctx context.Context, query string, types []SearchType) (SearchResults, error) {
	query, effective := effectiveSearch(query, types)

	data, err := c.doRequest(ctx, http.MethodPost, "/search", SearchQuery{
		QueryString: query,
		SearchTypes: effective,
	})
	if err != nil {
		return SearchResults{}, err
	}
	return decodeJSON[SearchResults](data)
}

// effectiveSearch applies the trailing-space AI rule and trims the query.
func effectiveSearch(query string, types []SearchType) (string, []SearchType) {
	wantAI := strings.HasSuffix(query, " ")

	effective := make([]SearchType, 0, len(types)+1)
	hasAI := false
	for _, t := range types {
		if t == SearchAI {
			hasAI = true
			if !wantAI {
				continue
			}
		}
		effective = append(effective, t)
	}
	if wantAI && !hasAI {
		effective = append(effective, SearchAI)
	}
	return strings.TrimSpace(query), effective
}
