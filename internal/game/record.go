package game

// Side identifies which team a qualifier fired for.
type Side string

const (
	SideHome Side = "home"
	SideAway Side = "away"
)

// Status tracks where a game is in its lifecycle.
type Status string

const (
	StatusUpdate Status = "update" // in progress
	StatusFinal  Status = "final"  // completed; scores frozen
)

// UpdateKind is the type field on an inbound event update.
type UpdateKind string

const (
	KindFirst  UpdateKind = "first" // fresh tracking session: clears the scope
	KindUpdate UpdateKind = "update"
	KindFinal  UpdateKind = "final"
)

// Result is the graded outcome of a qualified game after reconciliation.
type Result string

const (
	ResultWinner Result = "WINNER"
	ResultLoser  Result = "LOSER"
	ResultNoLine Result = "NO_LINE" // the recommended line was never offered
)

// MatchDetails records the first acceptable bookmaker quote found during the
// historical walk.
type MatchDetails struct {
	Timestamp              string  `json:"timestamp"` // bookmaker last_update, ISO-8601
	Bookmaker              string  `json:"bookmaker"`
	SpreadOffered          float64 `json:"spreadOffered"`
	RecommendedSpread      Spread  `json:"recommendedSpread"` // after flex
	OriginalRecommendation Spread  `json:"originalRecommendation"`
}

// OddsResult is populated by reconciliation. NO_LINE results carry a reason
// instead of match details.
type OddsResult struct {
	Result        Result        `json:"result"`
	MatchDetails  *MatchDetails `json:"matchDetails,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	DisplayString string        `json:"displayString,omitempty"`
}

// Record is the canonical state of one tracked game within a scope.
// The same shape doubles as the inbound update message; Kind is only
// meaningful on updates and is cleared once applied.
type Record struct {
	EventID string     `json:"gameId"`
	Scope   string     `json:"date"` // YYYYMMDD, selects the owning actor
	Kind    UpdateKind `json:"type,omitempty"`

	HomeTeam  string `json:"homeTeam"`
	AwayTeam  string `json:"awayTeam"`
	HomeScore int    `json:"homeScore"`
	AwayScore int    `json:"awayScore"`
	Status    Status `json:"status"`

	Qualified           bool    `json:"qualified"`
	QualifiedTeam       Side    `json:"qualifiedTeam,omitempty"`
	QualifiedTime       string  `json:"qualifiedTime,omitempty"` // "7:35 PM ET" or RFC3339
	QualifiedLiveSpread *Spread `json:"qualifiedLiveSpread,omitempty"`
	Disqualified        bool    `json:"disqualified,omitempty"`

	OddsResult *OddsResult `json:"oddsResult,omitempty"`
}

// NewFromUpdate builds the initial record for a first-seen game.
func NewFromUpdate(u *Record) *Record {
	r := u.Clone()
	r.Kind = ""
	r.Status = StatusUpdate
	if u.Kind == KindFinal {
		r.Status = StatusFinal
	}
	return r
}

// Apply merges an inbound update into the record.
//
// Scores never regress and freeze entirely once the game is final.
// Qualification is sticky: a later update cannot un-qualify a game, only
// flag it disqualified.
func (r *Record) Apply(u *Record) {
	if r.Status != StatusFinal {
		if u.HomeScore > r.HomeScore {
			r.HomeScore = u.HomeScore
		}
		if u.AwayScore > r.AwayScore {
			r.AwayScore = u.AwayScore
		}
	}

	if u.HomeTeam != "" {
		r.HomeTeam = u.HomeTeam
	}
	if u.AwayTeam != "" {
		r.AwayTeam = u.AwayTeam
	}

	if u.Qualified {
		r.Qualified = true
		if u.QualifiedTeam != "" {
			r.QualifiedTeam = u.QualifiedTeam
		}
		if u.QualifiedTime != "" {
			r.QualifiedTime = u.QualifiedTime
		}
		if u.QualifiedLiveSpread != nil {
			s := *u.QualifiedLiveSpread
			r.QualifiedLiveSpread = &s
		}
	}
	if u.Disqualified {
		r.Disqualified = true
	}
	if u.OddsResult != nil {
		res := *u.OddsResult
		r.OddsResult = &res
	}

	if u.Kind == KindFinal {
		r.Status = StatusFinal
	}
}

// ReadyToGrade reports whether reconciliation should consider this record:
// qualified, not disqualified, and not already graded.
func (r *Record) ReadyToGrade() bool {
	return r.Qualified && !r.Disqualified && r.OddsResult == nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	if r.QualifiedLiveSpread != nil {
		s := *r.QualifiedLiveSpread
		c.QualifiedLiveSpread = &s
	}
	if r.OddsResult != nil {
		res := *r.OddsResult
		if r.OddsResult.MatchDetails != nil {
			md := *r.OddsResult.MatchDetails
			res.MatchDetails = &md
		}
		c.OddsResult = &res
	}
	return &c
}
