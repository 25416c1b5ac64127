package aggregator

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
)

// SearchResults is the global search payload.
type SearchResults struct {
	Query string            `json:"query"`
	Items []json.RawMessage `json:"items"`
	Lists []json.RawMessage `json:"lists"`
}

// SearchResponse is the global search response body.
type SearchResponse struct {
	Success bool          `json:"success"`
	Data    SearchResults `json:"data"`
	Meta    Meta          `json:"meta"`
}

// Search queries the catalog and, when id is set, the caller's lists. A
// blank query fails before any backend is called.
func (a *Aggregator) Search(ctx context.Context, query string, id *identity.Identity) (*SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, proxy.NewMissingQueryError()
	}

	names := []string{"items"}
	branches := []Branch[[]json.RawMessage]{{
		Name: "items",
		Run: func(ctx context.Context) ([]json.RawMessage, error) {
			return a.fetchArray(ctx, CatalogService, "/items/search", url.Values{"q": {query}}, "")
		},
	}}
	if id != nil {
		names = append(names, "lists")
		branches = append(branches, Branch[[]json.RawMessage]{
			Name: "lists",
			Run: func(ctx context.Context) ([]json.RawMessage, error) {
				lists, err := a.fetchArray(ctx, ListService, "/lists", limitQuery(a.cfg.SearchListPageSize), id.Token)
				if err != nil {
					return nil, err
				}
				return FilterLists(lists, query), nil
			},
		})
	}

	results := FanOut(ctx, a.tracer, branches...)
	a.logFailures("search", names, results)

	out := SearchResults{
		Query: query,
		Items: capSlice(orEmpty(results[0].Value), a.cfg.CatalogLimit),
		Lists: []json.RawMessage{},
	}
	if len(results) > 1 {
		out.Lists = capSlice(orEmpty(results[1].Value), a.cfg.ListLimit)
	}

	return &SearchResponse{
		Success: true,
		Data:    out,
		Meta:    metaFor(names, results),
	}, nil
}

// FilterLists keeps the lists whose name, or the name of any item in them,
// contains query case-insensitively.
func FilterLists(lists []json.RawMessage, query string) []json.RawMessage {
	needle := strings.ToLower(query)
	out := []json.RawMessage{}
	for _, raw := range lists {
		var entry listEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if matchesList(entry, needle) {
			out = append(out, raw)
		}
	}
	return out
}

func matchesList(entry listEntry, needle string) bool {
	if strings.Contains(strings.ToLower(entry.Name), needle) {
		return true
	}
	for _, item := range entry.Items {
		if strings.Contains(strings.ToLower(item.Name), needle) {
			return true
		}
	}
	return false
}
