package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/shopspring/decimal"

	"pattern-trader/internal/core"
)

// OutcomeWindow is the age range, inclusive, in which a recorded pattern
// receives the market price as its outcome for Name.
type OutcomeWindow struct {
	Name string
	From time.Duration
	To   time.Duration
}

// OutcomeWindows sit half way between neighbouring checkpoints so that a
// cycle of any length lands in exactly one of them.
var OutcomeWindows = []OutcomeWindow{
	{Name: "m5", From: 0, To: 7*time.Minute + 30*time.Second},
	{Name: "m10", From: 7*time.Minute + 30*time.Second, To: 12*time.Minute + 30*time.Second},
	{Name: "m15", From: 12*time.Minute + 30*time.Second, To: 22*time.Minute + 30*time.Second},
	{Name: "m30", From: 22*time.Minute + 30*time.Second, To: 45 * time.Minute},
	{Name: "m60", From: 45 * time.Minute, To: 90 * time.Minute},
	{Name: "m120", From: 90 * time.Minute, To: 180 * time.Minute},
}

// PatternRecord is one recognized pattern and the prices that followed it.
type PatternRecord struct {
	Time       time.Time                  `json:"time"`
	Base       string                     `json:"base"`
	Quote      string                     `json:"quote"`
	Pattern    string                     `json:"pattern"`
	Indication int                        `json:"indication"`
	Price      decimal.Decimal            `json:"price"`
	Outcomes   map[string]decimal.Decimal `json:"outcomes,omitempty"`
}

// Journal is the order and pattern log.
//
// keys: o:<order id>, p:<base>/<quote>:<unix nanos>:<pattern>
type Journal struct {
	db  *pebble.DB
	now func() time.Time
}

func OpenJournal(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal dir required")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal at %s: %w", dir, err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func orderKey(orderID string) []byte { return []byte("o:" + orderID) }

func patternPrefix(base, quote string) []byte {
	return []byte("p:" + strings.ToUpper(base) + "/" + strings.ToUpper(quote) + ":")
}

func patternKey(rec PatternRecord) []byte {
	return append(patternPrefix(rec.Base, rec.Quote), fmt.Sprintf("%020d:%s", rec.Time.UnixNano(), rec.Pattern)...)
}

// keyUpperBound returns the smallest key greater than every key with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (j *Journal) RecordOrder(rec core.OrderRecord) error {
	if rec.OrderID == "" {
		return errors.New("order id required")
	}
	if rec.Time.IsZero() {
		rec.Time = j.now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", rec.OrderID, err)
	}
	if err := j.db.Set(orderKey(rec.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save order %s: %w", rec.OrderID, err)
	}
	return nil
}

// DeleteOrder is a no-op for unknown ids.
func (j *Journal) DeleteOrder(orderID string) error {
	if err := j.db.Delete(orderKey(orderID), pebble.Sync); err != nil {
		return fmt.Errorf("delete order %s: %w", orderID, err)
	}
	return nil
}

// Orders returns every logged order, oldest first.
func (j *Journal) Orders() ([]core.OrderRecord, error) {
	prefix := []byte("o:")
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []core.OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec core.OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })
	return out, nil
}

func (j *Journal) RecordPattern(rec PatternRecord) error {
	if rec.Time.IsZero() {
		rec.Time = j.now().UTC()
	}
	rec.Base = strings.ToUpper(rec.Base)
	rec.Quote = strings.ToUpper(rec.Quote)
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal pattern %s: %w", rec.Pattern, err)
	}
	if err := j.db.Set(patternKey(rec), data, pebble.Sync); err != nil {
		return fmt.Errorf("save pattern %s: %w", rec.Pattern, err)
	}
	return nil
}

// Patterns returns the patterns recorded for a pair, oldest first.
func (j *Journal) Patterns(base, quote string) ([]PatternRecord, error) {
	var out []PatternRecord
	err := j.scanPatterns(base, quote, func(_ []byte, rec PatternRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// UpdatePatternOutcomes stores price as the outcome of every pattern of the
// pair whose age at now falls inside an outcome window not yet filled. It
// returns the number of outcomes written.
func (j *Journal) UpdatePatternOutcomes(base, quote string, price decimal.Decimal, now time.Time) (int, error) {
	batch := j.db.NewBatch()
	defer batch.Close()

	updated := 0
	err := j.scanPatterns(base, quote, func(key []byte, rec PatternRecord) error {
		age := now.Sub(rec.Time)
		changed := false
		for _, w := range OutcomeWindows {
			if age < w.From || age > w.To {
				continue
			}
			if _, done := rec.Outcomes[w.Name]; done {
				continue
			}
			if rec.Outcomes == nil {
				rec.Outcomes = make(map[string]decimal.Decimal, len(OutcomeWindows))
			}
			rec.Outcomes[w.Name] = price
			changed = true
			updated++
		}
		if !changed {
			return nil
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return batch.Set(key, data, nil)
	})
	if err != nil {
		return 0, err
	}
	if updated == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("commit pattern outcomes: %w", err)
	}
	return updated, nil
}

func (j *Journal) scanPatterns(base, quote string, fn func(key []byte, rec PatternRecord) error) error {
	prefix := patternPrefix(base, quote)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec PatternRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode pattern %s: %w", iter.Key(), err)
		}
		key := append([]byte(nil), iter.Key()...)
		if err := fn(key, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}
