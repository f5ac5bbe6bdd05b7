package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hoopadvisors/courtside/internal/game"
	"github.com/hoopadvisors/courtside/internal/oddsfeed"
	"github.com/hoopadvisors/courtside/internal/telemetry"
)

// Fetcher is satisfied by *oddsfeed.Client and lets tests drive the walk
// with a scripted feed.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, ts time.Time) (*oddsfeed.Snapshot, error)
}

// Persist writes a freshly graded record through to durable storage.
// Grading persists per event, not batched: a crash mid-walk must not lose
// results already found.
type Persist func(rec *game.Record) error

// Summary is the always-returned outcome of one reconciliation pass.
type Summary struct {
	Processed int    `json:"processed"`
	Matched   int    `json:"matched"`
	NoLine    int    `json:"noLine"`
	Snapshots int    `json:"snapshots"`
	Message   string `json:"message"`
}

// Engine walks the historical odds feed forward in time and grades qualified
// games against it. Stateless between runs; the owning scope actor invokes
// Run on its own goroutine, so records are safe to mutate in place.
type Engine struct {
	fetcher      Fetcher
	limiter      *rate.Limiter
	maxSnapshots int
	loc          *time.Location
}

func NewEngine(f Fetcher, delay time.Duration, maxSnapshots int, loc *time.Location) *Engine {
	return &Engine{
		fetcher:      f,
		limiter:      rate.NewLimiter(rate.Every(delay), 1),
		maxSnapshots: maxSnapshots,
		loc:          loc,
	}
}

// Run grades every qualified, ungraded record for one scope date.
//
// The feed only paginates forward (timestamp -> next_timestamp), so the walk
// is strictly sequential: each fetched snapshot is checked against every
// still-unmatched game, amortizing one feed call across all of them. The
// walk stops when everything is matched, the feed or the day runs out, or
// the snapshot cap is hit. Errors degrade the pass; they never escape it.
func (e *Engine) Run(ctx context.Context, scopeDate string, records []*game.Record, persist Persist) Summary {
	var qualified []*game.Record
	for _, r := range records {
		if r.ReadyToGrade() {
			qualified = append(qualified, r)
		}
	}
	if len(qualified) == 0 {
		return Summary{Processed: 0, Message: "No qualified games found for this date"}
	}

	// Resolve qualification instants. Records without a usable time are
	// skipped for this pass entirely (not graded NO_LINE).
	unmatched := make(map[string]*game.Record)
	qualifiedAt := make(map[string]time.Time)
	for _, r := range qualified {
		t, err := game.ParseQualifiedTime(scopeDate, r.QualifiedTime, e.loc)
		if err != nil {
			telemetry.Warnf("reconcile: skipping %s vs %s: %v", r.AwayTeam, r.HomeTeam, err)
			continue
		}
		unmatched[r.EventID] = r
		qualifiedAt[r.EventID] = t
	}
	if len(unmatched) == 0 {
		return Summary{Processed: 0, Message: "No valid qualification times found"}
	}

	endOfDay, err := game.EndOfDay(scopeDate, e.loc)
	if err != nil {
		return Summary{Processed: 0, Message: fmt.Sprintf("Bad scope date %q", scopeDate)}
	}

	cursor := earliestTime(qualifiedAt)
	processed := len(unmatched)
	matched := 0
	fetches := 0
	var prev *oddsfeed.Snapshot

	for len(unmatched) > 0 && cursor.Before(endOfDay) && fetches < e.maxSnapshots {
		if err := e.limiter.Wait(ctx); err != nil {
			break
		}

		snap, err := e.fetcher.FetchSnapshot(ctx, cursor)
		fetches++
		if err != nil {
			telemetry.Warnf("reconcile: snapshot fetch at %s: %v", cursor.Format(time.RFC3339), err)
			if prev == nil {
				break
			}
			next, ok := prev.Next()
			if !ok {
				break
			}
			cursor = next
			continue
		}
		prev = snap

		telemetry.Debugf("reconcile: snapshot %d at %s, %d games remaining",
			fetches, snap.Timestamp, len(unmatched))

		snapTime := snap.Time()
		for id, rec := range unmatched {
			// A game can't match before its qualifier fired.
			if qualifiedAt[id].After(snapTime) {
				continue
			}

			quote, ok := e.findAcceptableQuote(rec, snap)
			if !ok {
				continue
			}

			e.grade(rec, quote)
			matched++
			delete(unmatched, id)

			if err := persist(rec); err != nil {
				telemetry.Errorf("reconcile: persist graded %s: %v", rec.EventID, err)
			}
		}

		next, ok := snap.Next()
		if !ok {
			break
		}
		cursor = next
	}

	// Whatever never matched is graded NO_LINE, with the recommendation in
	// the reason so the operator can see what was asked for.
	for _, rec := range unmatched {
		rec.OddsResult = &game.OddsResult{
			Result: game.ResultNoLine,
			Reason: fmt.Sprintf("Recommended spread %s never available", recommendation(rec)),
		}
		telemetry.Metrics.GamesGraded.Inc()
		if err := persist(rec); err != nil {
			telemetry.Errorf("reconcile: persist NO_LINE %s: %v", rec.EventID, err)
		}
	}

	noLine := len(unmatched)
	return Summary{
		Processed: processed,
		Matched:   matched,
		NoLine:    noLine,
		Snapshots: fetches,
		Message: fmt.Sprintf("Processed %d qualified games, %d with matches, %d with NO LINE",
			processed, matched, noLine),
	}
}

// quoteMatch is the first acceptable bookmaker quote found for a game.
type quoteMatch struct {
	bookmaker  string
	lastUpdate string
	offered    float64
	flexed     game.Spread
}

// findAcceptableQuote locates the game in the snapshot by team names and
// scans each bookmaker's spread market for a quote at least as good as the
// flexed recommendation.
func (e *Engine) findAcceptableQuote(rec *game.Record, snap *oddsfeed.Snapshot) (quoteMatch, bool) {
	mg := findGame(snap, rec)
	if mg == nil {
		return quoteMatch{}, false
	}

	flexed := recommendation(rec).Flex()
	isHome := rec.QualifiedTeam == game.SideHome
	teamName := rec.HomeTeam
	if !isHome {
		teamName = rec.AwayTeam
	}

	for _, bm := range mg.Bookmakers {
		for _, m := range bm.Markets {
			if m.Key != "spreads" {
				continue
			}
			for _, o := range m.Outcomes {
				if !matchesTeam(o.Name, teamName) {
					continue
				}
				if acceptableSpread(flexed, o.Point, isHome) {
					return quoteMatch{
						bookmaker:  bm.Title,
						lastUpdate: bm.LastUpdate,
						offered:    o.Point,
						flexed:     flexed,
					}, true
				}
			}
		}
	}
	return quoteMatch{}, false
}

// grade fills in the record's odds result from a matched quote and the
// final score.
func (e *Engine) grade(rec *game.Record, q quoteMatch) {
	won := wouldWin(rec.HomeScore, rec.AwayScore, rec.QualifiedTeam, q.offered)

	result := game.ResultLoser
	if won {
		result = game.ResultWinner
	}

	when := q.lastUpdate
	if t, err := time.Parse(time.RFC3339, q.lastUpdate); err == nil {
		when = game.FormatClock(t, e.loc)
	}

	rec.OddsResult = &game.OddsResult{
		Result: result,
		MatchDetails: &game.MatchDetails{
			Timestamp:              q.lastUpdate,
			Bookmaker:              q.bookmaker,
			SpreadOffered:          q.offered,
			RecommendedSpread:      q.flexed,
			OriginalRecommendation: recommendation(rec),
		},
		DisplayString: fmt.Sprintf("%s - %s offered %s at %s (recommended: %s)",
			result, q.bookmaker, game.PointSpread(q.offered), when, q.flexed),
	}
	telemetry.Metrics.GamesGraded.Inc()
}

// recommendation returns the qualifier's live spread, treating an absent
// one as moneyline (the live tracker omits the field on ML qualifiers).
func recommendation(rec *game.Record) game.Spread {
	if rec.QualifiedLiveSpread == nil {
		return game.Moneyline
	}
	return *rec.QualifiedLiveSpread
}

// findGame matches by exact (trimmed, case-folded) team names, checking both
// orientations since the feed sometimes flips home/away.
func findGame(snap *oddsfeed.Snapshot, rec *game.Record) *oddsfeed.MarketGame {
	for i := range snap.Data {
		mg := &snap.Data[i]
		if matchesTeam(mg.HomeTeam, rec.HomeTeam) && matchesTeam(mg.AwayTeam, rec.AwayTeam) {
			return mg
		}
		if matchesTeam(mg.HomeTeam, rec.AwayTeam) && matchesTeam(mg.AwayTeam, rec.HomeTeam) {
			return mg
		}
	}
	return nil
}

func matchesTeam(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// acceptableSpread reports whether an offered quote is equal to or better
// than the flexed recommendation, direction-sensitively: favorites want a
// more negative number, underdogs a more positive one. ML and exactly-zero
// recommendations accept any quote on the qualified side's favored
// direction.
func acceptableSpread(flexed game.Spread, offered float64, isHome bool) bool {
	if flexed.ML {
		if isHome {
			return offered <= 0
		}
		return offered >= 0
	}

	switch {
	case flexed.Points < 0:
		return offered <= flexed.Points
	case flexed.Points > 0:
		return offered >= flexed.Points
	default:
		if isHome {
			return offered <= 0
		}
		return offered >= 0
	}
}

// wouldWin grades a spread bet on the qualified team against the final
// score. actualMargin is home minus away; the away rules mirror the home
// rules with the margin negated.
func wouldWin(homeScore, awayScore int, team game.Side, offered float64) bool {
	margin := float64(homeScore - awayScore)

	if team == game.SideHome {
		switch {
		case offered < 0:
			// Favored: must win by more than the spread.
			return margin > -offered
		case offered > 0:
			// Underdog: may lose by less than the spread.
			return margin > -offered
		default:
			return margin > 0
		}
	}

	switch {
	case offered > 0:
		return margin < offered
	case offered < 0:
		return margin < offered
	default:
		return margin < 0
	}
}

func earliestTime(times map[string]time.Time) time.Time {
	var earliest time.Time
	for _, t := range times {
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}
