package ingest

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockFeed is the deterministic in-process feed used in development and
// tests. Items are served in updatedAt order; mutations through Put show
// up on the next poll.
type MockFeed struct {
	mu    sync.RWMutex
	items map[string]FeedItem
}

func NewMockFeed(items ...FeedItem) *MockFeed {
	f := &MockFeed{items: make(map[string]FeedItem)}
	for _, it := range items {
		f.items[it.ID] = it
	}
	return f
}

func (f *MockFeed) Source() string { return "mock" }

// Put inserts or replaces an item.
func (f *MockFeed) Put(item FeedItem) {
	f.mu.Lock()
	f.items[item.ID] = item
	f.mu.Unlock()
}

func (f *MockFeed) FetchUpdatedSince(_ context.Context, since time.Time, pageToken string, pageSize int) (FeedPage, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	offset := 0
	if pageToken != "" {
		n, err := strconv.Atoi(pageToken)
		if err != nil {
			return FeedPage{}, err
		}
		offset = n
	}

	f.mu.RLock()
	matched := make([]FeedItem, 0, len(f.items))
	for _, it := range f.items {
		t, err := parseFeedTime(it.UpdatedAt)
		if err != nil {
			continue
		}
		if t.After(since) {
			matched = append(matched, it)
		}
	}
	f.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt == matched[j].UpdatedAt {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt < matched[j].UpdatedAt
	})

	if offset >= len(matched) {
		return FeedPage{}, nil
	}
	end := offset + pageSize
	next := ""
	if end < len(matched) {
		next = strconv.Itoa(end)
	} else {
		end = len(matched)
	}
	return FeedPage{Items: matched[offset:end], NextToken: next}, nil
}

// SeedItems returns a small Toronto-area data set for demo runs.
func SeedItems(now time.Time) []FeedItem {
	ts := now.UTC().Format(time.RFC3339)
	f := func(v float64) *float64 { return &v }
	n := func(v int) *int { return &v }
	return []FeedItem{
		{
			ID: "L-1001", MLSNumber: "C5551001", Status: "Active",
			ListedAt: ts, UpdatedAt: ts,
			Street: "88 Harbour St", City: "Toronto", Province: "ON",
			PostalCode: "M5J 0C3", Country: "CA",
			PropertyType: "Condo", Beds: 2, Baths: 2, Sqft: n(780),
			ListPrice: 749000, TaxesAnnual: f(3400), CondoFeeMonthly: f(620),
			Photos: []string{"https://cdn.example.com/l1001/1.jpg"},
		},
		{
			ID: "L-1002", MLSNumber: "W5551002", Status: "Active",
			ListedAt: ts, UpdatedAt: ts,
			Street: "42 Maplewood Ave", City: "Mississauga", Province: "ON",
			PostalCode: "L5B 3Y8", Country: "CA",
			PropertyType: "Townhouse", Beds: 3, Baths: 2.5, Sqft: n(1450),
			ListPrice: 899000, TaxesAnnual: f(4800),
		},
		{
			ID: "L-1003", MLSNumber: "E5551003", Status: "Active",
			ListedAt: ts, UpdatedAt: ts,
			Street: "17 Birchview Cres", City: "Oshawa", Province: "ON",
			PostalCode: "L1G 4T2", Country: "CA",
			PropertyType: "House", Beds: 4, Baths: 3, Sqft: n(2100),
			ListPrice: 1050000, TaxesAnnual: f(6900),
		},
	}
}
