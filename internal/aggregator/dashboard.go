package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/vyrodovalexey/aggregw/internal/identity"
	"github.com/vyrodovalexey/aggregw/internal/proxy"
)

// Money is a currency amount rendered with exactly two decimals.
type Money float64

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(m), 'f', 2, 64)), nil
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// number accepts both JSON numbers and numeric strings.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = number(v)
	return nil
}

type listItem struct {
	Name      string  `json:"name"`
	Price     number  `json:"price"`
	Quantity  *number `json:"quantity"`
	Purchased bool    `json:"purchased"`
}

type listEntry struct {
	Name  string     `json:"name"`
	Items []listItem `json:"items"`
}

// Stats is the reduction over the caller's lists.
type Stats struct {
	TotalLists     int   `json:"totalLists"`
	PurchasedItems int   `json:"purchasedItems"`
	TotalValue     Money `json:"totalValue"`
}

// ReduceLists computes the dashboard stats. Quantity defaults to 1.
// Entries that are not list objects are counted but contribute no items.
func ReduceLists(lists []json.RawMessage) Stats {
	var (
		purchased int
		total     float64
	)
	for _, raw := range lists {
		var entry listEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		for _, item := range entry.Items {
			qty := 1.0
			if item.Quantity != nil {
				qty = float64(*item.Quantity)
			}
			total += float64(item.Price) * qty
			if item.Purchased {
				purchased++
			}
		}
	}
	return Stats{
		TotalLists:     len(lists),
		PurchasedItems: purchased,
		TotalValue:     Money(Round2(total)),
	}
}

// Dashboard is the dashboard payload.
type Dashboard struct {
	User          string            `json:"user"`
	Stats         Stats             `json:"stats"`
	RecentLists   []json.RawMessage `json:"recentLists"`
	FeaturedItems []json.RawMessage `json:"featuredItems"`
	Categories    []json.RawMessage `json:"categories"`
}

// DashboardResponse is the dashboard response body.
type DashboardResponse struct {
	Success bool      `json:"success"`
	Data    Dashboard `json:"data"`
	Meta    Meta      `json:"meta"`
}

var dashboardBranches = []string{"lists", "items", "categories"}

// Dashboard builds the caller's dashboard. It fails only when id is nil;
// failed branches contribute empty segments.
func (a *Aggregator) Dashboard(ctx context.Context, id *identity.Identity) (*DashboardResponse, error) {
	if id == nil {
		return nil, proxy.NewUnauthorizedError("dashboard requires a bearer token")
	}

	results := FanOut(ctx, a.tracer,
		Branch[[]json.RawMessage]{Name: dashboardBranches[0], Run: func(ctx context.Context) ([]json.RawMessage, error) {
			return a.fetchArray(ctx, ListService, "/lists", limitQuery(a.cfg.DashboardPageSize), id.Token)
		}},
		Branch[[]json.RawMessage]{Name: dashboardBranches[1], Run: func(ctx context.Context) ([]json.RawMessage, error) {
			return a.fetchArray(ctx, CatalogService, "/items", limitQuery(a.cfg.SampleSize), "")
		}},
		Branch[[]json.RawMessage]{Name: dashboardBranches[2], Run: func(ctx context.Context) ([]json.RawMessage, error) {
			return a.fetchArray(ctx, CatalogService, "/items/categories", nil, "")
		}},
	)
	a.logFailures("dashboard", dashboardBranches, results)

	lists := orEmpty(results[0].Value)
	return &DashboardResponse{
		Success: true,
		Data: Dashboard{
			User:          id.Subject,
			Stats:         ReduceLists(lists),
			RecentLists:   capSlice(lists, a.cfg.RecentLists),
			FeaturedItems: orEmpty(results[1].Value),
			Categories:    orEmpty(results[2].Value),
		},
		Meta: metaFor(dashboardBranches, results),
	}, nil
}
