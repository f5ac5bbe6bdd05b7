package oddsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hoopadvisors/courtside/internal/telemetry"
)

// Snapshot is one time-slice of the historical odds feed. Snapshots form a
// linked list in time: NextTimestamp addresses the following slice, empty
// when the feed is exhausted.
type Snapshot struct {
	Timestamp         string       `json:"timestamp"`
	PreviousTimestamp string       `json:"previous_timestamp"`
	NextTimestamp     string       `json:"next_timestamp"`
	Data              []MarketGame `json:"data"`
}

// Next returns the following snapshot's instant, with ok=false when the
// feed has no more slices.
func (s *Snapshot) Next() (time.Time, bool) {
	if s.NextTimestamp == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s.NextTimestamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Time returns the snapshot's own instant, zero when unparseable.
func (s *Snapshot) Time() time.Time {
	t, err := time.Parse(time.RFC3339, s.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// MarketGame is one game's market lines within a snapshot.
type MarketGame struct {
	ID         string      `json:"id"`
	HomeTeam   string      `json:"home_team"`
	AwayTeam   string      `json:"away_team"`
	Bookmakers []Bookmaker `json:"bookmakers"`
}

type Bookmaker struct {
	Key        string   `json:"key"`
	Title      string   `json:"title"`
	LastUpdate string   `json:"last_update"`
	Markets    []Market `json:"markets"`
}

type Market struct {
	Key      string    `json:"key"` // "spreads"
	Outcomes []Outcome `json:"outcomes"`
}

type Outcome struct {
	Name  string  `json:"name"` // team display name
	Price float64 `json:"price"`
	Point float64 `json:"point"` // quoted spread for Name
}

// Client fetches historical odds snapshots from The Odds API.
type Client struct {
	baseURL    string
	apiKey     string
	sport      string
	regions    string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, sport, regions string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		sport:   sport,
		regions: regions,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// FetchSnapshot returns the snapshot at or immediately before ts.
func (c *Client) FetchSnapshot(ctx context.Context, ts time.Time) (*Snapshot, error) {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("regions", c.regions)
	q.Set("markets", "spreads")
	q.Set("dateFormat", "iso")
	q.Set("oddsFormat", "american")
	q.Set("date", ts.UTC().Format(time.RFC3339))

	u := fmt.Sprintf("%s/v4/historical/sports/%s/odds?%s", c.baseURL, c.sport, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.Metrics.SnapshotErrors.Inc()
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		telemetry.Metrics.SnapshotErrors.Inc()
		return nil, fmt.Errorf("odds api status %d", resp.StatusCode)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		telemetry.Metrics.SnapshotErrors.Inc()
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	telemetry.Metrics.SnapshotsFetched.Inc()
	telemetry.Metrics.FeedLatency.Record(time.Since(start))
	telemetry.Debugf("oddsfeed: snapshot %s -> %d games, next=%s (%s)",
		snap.Timestamp, len(snap.Data), snap.NextTimestamp, time.Since(start))

	return &snap, nil
}
