package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoopadvisors/courtside/internal/game"
	"github.com/hoopadvisors/courtside/internal/oddsfeed"
)

const scopeDate = "20260221"

// fakeFeed scripts the historical walk: serve is called with the 1-based
// call number and the requested cursor.
type fakeFeed struct {
	calls int
	serve func(call int, ts time.Time) (*oddsfeed.Snapshot, error)
}

func (f *fakeFeed) FetchSnapshot(_ context.Context, ts time.Time) (*oddsfeed.Snapshot, error) {
	f.calls++
	return f.serve(f.calls, ts)
}

func newTestEngine(t *testing.T, feed Fetcher) *Engine {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return NewEngine(feed, time.Microsecond, 100, loc)
}

// quote is one bookmaker's home-team spread; the away outcome mirrors it.
type quote struct {
	bookmaker string
	homePoint float64
}

func spreadsSnapshot(ts, next string, homeTeam, awayTeam string, quotes ...quote) *oddsfeed.Snapshot {
	var bms []oddsfeed.Bookmaker
	for _, q := range quotes {
		bms = append(bms, oddsfeed.Bookmaker{
			Key:        q.bookmaker,
			Title:      q.bookmaker,
			LastUpdate: ts,
			Markets: []oddsfeed.Market{{
				Key: "spreads",
				Outcomes: []oddsfeed.Outcome{
					{Name: homeTeam, Point: q.homePoint, Price: -110},
					{Name: awayTeam, Point: -q.homePoint, Price: -110},
				},
			}},
		})
	}
	return &oddsfeed.Snapshot{
		Timestamp:     ts,
		NextTimestamp: next,
		Data:          []oddsfeed.MarketGame{{HomeTeam: homeTeam, AwayTeam: awayTeam, Bookmakers: bms}},
	}
}

func qualifiedRecord(spread game.Spread, team game.Side) *game.Record {
	s := spread
	return &game.Record{
		EventID:             "g1",
		Scope:               scopeDate,
		HomeTeam:            "Duke Blue Devils",
		AwayTeam:            "North Carolina Tar Heels",
		HomeScore:           80,
		AwayScore:           70,
		Status:              game.StatusFinal,
		Qualified:           true,
		QualifiedTeam:       team,
		QualifiedTime:       "12:00 PM ET",
		QualifiedLiveSpread: &s,
	}
}

func collectPersists() (Persist, *[]*game.Record) {
	var persisted []*game.Record
	return func(r *game.Record) error {
		persisted = append(persisted, r)
		return nil
	}, &persisted
}

func TestRunNoQualifiedGames(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		t.Fatal("feed must not be called")
		return nil, nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	records := []*game.Record{
		{EventID: "a"},
		{EventID: "b", Qualified: true, Disqualified: true},
		{EventID: "c", Qualified: true, OddsResult: &game.OddsResult{Result: game.ResultWinner}},
	}

	sum := e.Run(context.Background(), scopeDate, records, persist)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, feed.calls)
}

func TestRunRerunOnGradedScopeIsNoOp(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		t.Fatal("feed must not be called")
		return nil, nil
	}}
	e := newTestEngine(t, feed)
	persist, persisted := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	rec.OddsResult = &game.OddsResult{Result: game.ResultWinner}

	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, sum.Snapshots)
	assert.Empty(t, *persisted)
}

func TestRunNoValidQualificationTimes(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		t.Fatal("feed must not be called")
		return nil, nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	rec.QualifiedTime = "sometime after tipoff"

	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)
	assert.Equal(t, 0, sum.Processed)
	assert.Contains(t, sum.Message, "No valid qualification times")
}

func TestRunFlexedMatchAndGrade(t *testing.T) {
	// Recommended -3 flexes to -3.5: a -3 quote is not good enough, -4 is.
	feed := &fakeFeed{serve: func(call int, _ time.Time) (*oddsfeed.Snapshot, error) {
		return spreadsSnapshot(
			"2026-02-21T17:05:00Z", "",
			"Duke Blue Devils", "North Carolina Tar Heels",
			quote{"BookA", -3},
			quote{"BookB", -4},
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, persisted := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 0, sum.NoLine)
	assert.Equal(t, 1, sum.Snapshots)

	require.NotNil(t, rec.OddsResult)
	assert.Equal(t, game.ResultWinner, rec.OddsResult.Result) // margin 10 > 4
	md := rec.OddsResult.MatchDetails
	require.NotNil(t, md)
	assert.Equal(t, "BookB", md.Bookmaker)
	assert.Equal(t, -4.0, md.SpreadOffered)
	assert.Equal(t, game.PointSpread(-3.5), md.RecommendedSpread)
	assert.Equal(t, game.PointSpread(-3), md.OriginalRecommendation)
	assert.Contains(t, rec.OddsResult.DisplayString, "BookB")

	require.Len(t, *persisted, 1)
	assert.Same(t, rec, (*persisted)[0])
}

func TestRunWorseQuoteNeverMatches(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		return spreadsSnapshot(
			"2026-02-21T17:05:00Z", "",
			"Duke Blue Devils", "North Carolina Tar Heels",
			quote{"BookA", -3},
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, persisted := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 1, sum.NoLine)
	require.NotNil(t, rec.OddsResult)
	assert.Equal(t, game.ResultNoLine, rec.OddsResult.Result)
	assert.Nil(t, rec.OddsResult.MatchDetails)
	assert.Contains(t, rec.OddsResult.Reason, "-3")
	require.Len(t, *persisted, 1)
}

func TestRunFlippedOrientation(t *testing.T) {
	// The feed has home/away swapped relative to our record.
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		return spreadsSnapshot(
			"2026-02-21T17:05:00Z", "",
			"North Carolina Tar Heels", "Duke Blue Devils",
			quote{"BookA", 4}, // Duke (away in feed) at -4
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 1, sum.Matched)
	require.NotNil(t, rec.OddsResult)
	assert.Equal(t, -4.0, rec.OddsResult.MatchDetails.SpreadOffered)
}

func TestRunMoneylineQualifier(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		return spreadsSnapshot(
			"2026-02-21T17:05:00Z", "",
			"Duke Blue Devils", "North Carolina Tar Heels",
			quote{"BookA", -2},
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.Moneyline, game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 1, sum.Matched)
	require.NotNil(t, rec.OddsResult)
	assert.Equal(t, game.ResultWinner, rec.OddsResult.Result) // margin 10 > 2
	assert.Equal(t, game.Moneyline, rec.OddsResult.MatchDetails.OriginalRecommendation)
}

func TestRunQualifierAfterAllSnapshots(t *testing.T) {
	// Qualifier fired at 11:00 PM ET; the only snapshot is earlier, so the
	// game is never eligible and grades NO_LINE.
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		return spreadsSnapshot(
			"2026-02-21T17:05:00Z", "",
			"Duke Blue Devils", "North Carolina Tar Heels",
			quote{"BookA", -10},
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	rec.QualifiedTime = "11:00 PM ET"

	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)
	assert.Equal(t, 1, sum.NoLine)
	require.NotNil(t, rec.OddsResult)
	assert.Equal(t, game.ResultNoLine, rec.OddsResult.Result)
	assert.Contains(t, rec.OddsResult.Reason, "-3")
}

func TestRunSnapshotCap(t *testing.T) {
	// An endless next_timestamp chain with no matching teams must halt
	// after exactly maxSnapshots fetches.
	feed := &fakeFeed{serve: func(call int, _ time.Time) (*oddsfeed.Snapshot, error) {
		ts := time.Date(2026, 2, 21, 17, 0, 0, 0, time.UTC).Add(time.Duration(call) * time.Minute)
		return spreadsSnapshot(
			ts.Format(time.RFC3339), ts.Add(time.Minute).Format(time.RFC3339),
			"Gonzaga Bulldogs", "Kansas Jayhawks",
			quote{"BookA", -1},
		), nil
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 100, feed.calls)
	assert.Equal(t, 100, sum.Snapshots)
	assert.Equal(t, 1, sum.NoLine)
}

func TestRunFetchErrorWithoutPriorStops(t *testing.T) {
	feed := &fakeFeed{serve: func(int, time.Time) (*oddsfeed.Snapshot, error) {
		return nil, fmt.Errorf("api request failed with status 500")
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, 1, sum.NoLine)
	assert.Equal(t, game.ResultNoLine, rec.OddsResult.Result)
}

func TestRunFetchErrorRecoversViaPriorNext(t *testing.T) {
	feed := &fakeFeed{serve: func(call int, _ time.Time) (*oddsfeed.Snapshot, error) {
		switch call {
		case 1:
			return spreadsSnapshot(
				"2026-02-21T17:05:00Z", "2026-02-21T17:10:00Z",
				"Gonzaga Bulldogs", "Kansas Jayhawks",
				quote{"BookA", -1},
			), nil
		case 2:
			return nil, fmt.Errorf("transient feed error")
		default:
			return spreadsSnapshot(
				"2026-02-21T17:10:00Z", "",
				"Duke Blue Devils", "North Carolina Tar Heels",
				quote{"BookA", -5},
			), nil
		}
	}}
	e := newTestEngine(t, feed)
	persist, _ := collectPersists()

	rec := qualifiedRecord(game.PointSpread(-3), game.SideHome)
	sum := e.Run(context.Background(), scopeDate, []*game.Record{rec}, persist)

	assert.Equal(t, 3, feed.calls)
	assert.Equal(t, 1, sum.Matched)
	assert.Equal(t, 3, sum.Snapshots)
}

func TestWouldWin(t *testing.T) {
	tests := []struct {
		name    string
		home    int
		away    int
		team    game.Side
		offered float64
		want    bool
	}{
		{"home favored covers", 80, 70, game.SideHome, -7, true},
		{"home underdog covers", 80, 70, game.SideHome, 7, true},
		{"home favored misses", 80, 70, game.SideHome, -12, false},
		{"home favored pushes to loss", 80, 70, game.SideHome, -10, false},
		{"home pickem wins outright", 80, 70, game.SideHome, 0, true},
		{"home pickem loses outright", 70, 80, game.SideHome, 0, false},
		{"away underdog covers", 70, 80, game.SideAway, 7, true},
		{"away underdog misses", 80, 70, game.SideAway, 7, false},
		{"away favored covers", 70, 85, game.SideAway, -12, true},
		{"away favored misses", 70, 80, game.SideAway, -12, false},
		{"away pickem wins outright", 70, 80, game.SideAway, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wouldWin(tt.home, tt.away, tt.team, tt.offered))
		})
	}
}

func TestAcceptableSpread(t *testing.T) {
	tests := []struct {
		name    string
		flexed  game.Spread
		offered float64
		isHome  bool
		want    bool
	}{
		{"favorite equal", game.PointSpread(-3.5), -3.5, true, true},
		{"favorite better", game.PointSpread(-3.5), -4, true, true},
		{"favorite worse", game.PointSpread(-3.5), -3, true, false},
		{"underdog equal", game.PointSpread(7.5), 7.5, false, true},
		{"underdog better", game.PointSpread(7.5), 8, false, true},
		{"underdog worse", game.PointSpread(7.5), 7, false, false},
		{"ml home favored quote", game.Moneyline, -2, true, true},
		{"ml home underdog quote", game.Moneyline, 2, true, false},
		{"ml away favored quote", game.Moneyline, 2, false, true},
		{"ml away wrong direction", game.Moneyline, -2, false, false},
		{"zero home wants negative", game.PointSpread(0), -1, true, true},
		{"zero home rejects positive", game.PointSpread(0), 1, true, false},
		{"zero away wants positive", game.PointSpread(0), 1, false, true},
		{"zero matches zero", game.PointSpread(0), 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, acceptableSpread(tt.flexed, tt.offered, tt.isHome))
		})
	}
}
