package scope

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/hoopadvisors/courtside/internal/game"
	"github.com/hoopadvisors/courtside/internal/hub"
	"github.com/hoopadvisors/courtside/internal/reconcile"
	"github.com/hoopadvisors/courtside/internal/store"
	"github.com/hoopadvisors/courtside/internal/telemetry"
)

// Actor owns all game records for one scope key (a calendar date).
//
// Every operation is serialized through an inbox channel drained by a single
// goroutine — the same idiom as a per-game context, lifted to a per-date
// scope. No mutexes guard the record map; nothing touches it off the actor
// goroutine. Rehydration from the durable store runs on that goroutine
// before the inbox is drained, so no operation ever sees partially-loaded
// state.
type Actor struct {
	Key string

	store  *store.Store
	engine *reconcile.Engine
	hub    *hub.Hub

	records map[string]*game.Record

	inbox   chan func()
	stopped chan struct{}
}

func NewActor(key string, st *store.Store, engine *reconcile.Engine) *Actor {
	a := &Actor{
		Key:     key,
		store:   st,
		engine:  engine,
		records: make(map[string]*game.Record),
		inbox:   make(chan func(), 64),
		stopped: make(chan struct{}),
	}
	a.hub = hub.New(a.initialMessage)
	go a.run()
	return a
}

// run rehydrates from the store, then drains the inbox one closure at a
// time. Operations enqueued during rehydration simply wait their turn.
func (a *Actor) run() {
	defer close(a.stopped)
	a.load()
	for fn := range a.inbox {
		fn()
	}
}

// load rebuilds the record map from the durable store. Fails open: a scope
// with nothing stored (or an unreadable store) starts empty.
func (a *Actor) load() {
	kvs, err := a.store.List(a.prefix())
	if err != nil {
		telemetry.Warnf("scope %s: rehydrate failed, starting empty: %v", a.Key, err)
		return
	}
	for k, v := range kvs {
		var rec game.Record
		if err := json.Unmarshal(v, &rec); err != nil {
			telemetry.Warnf("scope %s: skipping corrupt record %s: %v", a.Key, k, err)
			continue
		}
		a.records[rec.EventID] = &rec
	}
	if len(a.records) > 0 {
		telemetry.Infof("scope %s: rehydrated %d games", a.Key, len(a.records))
	}
}

// do runs fn on the actor goroutine and waits for it. The send blocks when
// the inbox is full rather than dropping — updates must not be lost, and
// callers hold no locks the actor goroutine could be waiting on.
func (a *Actor) do(fn func()) {
	done := make(chan struct{})
	a.inbox <- func() {
		fn()
		close(done)
	}
	<-done
}

// Update applies one inbound event update: mutate, persist, then broadcast.
// A persistence failure aborts the update before any in-memory or broadcast
// effect; the caller is expected to retry.
func (a *Actor) Update(u *game.Record) error {
	var err error
	a.do(func() {
		err = a.apply(u)
	})
	return err
}

func (a *Actor) apply(u *game.Record) error {
	telemetry.Metrics.UpdatesReceived.Inc()

	// A "first" update marks a fresh tracking session: everything
	// previously recorded for this scope is cleared before it applies.
	if u.Kind == game.KindFirst {
		if err := a.store.DeleteAll(a.prefix()); err != nil {
			telemetry.Metrics.UpdateErrors.Inc()
			return err
		}
		a.records = make(map[string]*game.Record)
	}

	var merged *game.Record
	if existing, ok := a.records[u.EventID]; ok {
		merged = existing.Clone()
		merged.Apply(u)
	} else {
		merged = game.NewFromUpdate(u)
		merged.Scope = a.Key
	}

	data, err := json.Marshal(merged)
	if err != nil {
		telemetry.Metrics.UpdateErrors.Inc()
		return err
	}
	if err := a.store.Put(a.recordKey(u.EventID), data); err != nil {
		telemetry.Metrics.UpdateErrors.Inc()
		return err
	}
	a.records[u.EventID] = merged

	// Subscribers get the raw update, not the merged record; the merged
	// view is what "initial" replays.
	if raw, err := json.Marshal(u); err == nil {
		a.hub.Broadcast(raw)
	}
	return nil
}

// State returns a defensive copy of every record in the scope, ordered by
// event id.
func (a *Actor) State() []*game.Record {
	var out []*game.Record
	a.do(func() {
		out = a.snapshot()
	})
	return out
}

// snapshot must run on the actor goroutine.
func (a *Actor) snapshot() []*game.Record {
	out := make([]*game.Record, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out
}

// initialMessage serializes the full-state reply for a late-joining
// subscriber, or nil when the scope is empty. Called from hub goroutines;
// goes through the inbox like any other read.
func (a *Actor) initialMessage() []byte {
	var games []*game.Record
	a.do(func() {
		games = a.snapshot()
	})
	if len(games) == 0 {
		return nil
	}
	msg, err := json.Marshal(struct {
		Type  string         `json:"type"`
		Games []*game.Record `json:"games"`
	}{Type: "initial", Games: games})
	if err != nil {
		telemetry.Warnf("scope %s: marshal initial state: %v", a.Key, err)
		return nil
	}
	return msg
}

// Hub exposes the scope's broadcast hub for websocket registration.
func (a *Actor) Hub() *hub.Hub { return a.hub }

// Reconcile walks the historical odds feed for this scope and grades every
// qualified game, then broadcasts each graded record. Runs on the actor
// goroutine: updates against this scope queue behind it, other scopes are
// unaffected.
func (a *Actor) Reconcile(ctx context.Context) reconcile.Summary {
	var sum reconcile.Summary
	a.do(func() {
		recs := make([]*game.Record, 0, len(a.records))
		for _, r := range a.records {
			recs = append(recs, r)
		}

		sum = a.engine.Run(ctx, a.Key, recs, a.persistRecord)

		for _, r := range a.records {
			if !r.Qualified || r.OddsResult == nil {
				continue
			}
			if raw, err := json.Marshal(r); err == nil {
				a.hub.Broadcast(raw)
			}
		}
	})
	return sum
}

// persistRecord is the engine's write-through hook. Runs on the actor
// goroutine during Reconcile.
func (a *Actor) persistRecord(rec *game.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return a.store.Put(a.recordKey(rec.EventID), data)
}

// Reset clears every record in the scope, in memory and in the store.
func (a *Actor) Reset() error {
	var err error
	a.do(func() {
		if err = a.store.DeleteAll(a.prefix()); err != nil {
			return
		}
		a.records = make(map[string]*game.Record)
	})
	return err
}

// Close shuts down the actor goroutine after draining queued operations.
func (a *Actor) Close() {
	close(a.inbox)
	<-a.stopped
}

func (a *Actor) prefix() string { return "game:" + a.Key + ":" }
func (a *Actor) recordKey(eventID string) string { return a.prefix() + eventID }
