// Package mood keeps the per-address mood journal: a chronological list of
// self-reported mood check-ins, each a rating from 1 (angry) to 5 (great)
// with optional free-form notes. The journal grows append-only; the trend
// view summarizes the most recent entries.
package mood

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/pkg/kvstore"
)

// ErrInvalidMood is returned by [Journal.Record] when the rating falls
// outside the 1–5 scale.
var ErrInvalidMood = errors.New("mood: rating must be between 1 and 5")

// TrendWindow is how many recent entries the trend view covers.
const TrendWindow = 7

// Entry is one mood check-in. Entries are appended in the order they are
// recorded, oldest first.
type Entry struct {
	// Mood is the rating on the 1–5 scale: 1 angry, 2 sad, 3 neutral,
	// 4 happy, 5 great.
	Mood int `json:"mood"`

	// Notes is the optional free-form note attached to the check-in.
	Notes string `json:"notes"`

	// CreatedAt is when the check-in was recorded.
	CreatedAt time.Time `json:"date"`
}

// Journal records and lists mood entries per wallet address.
type Journal struct {
	kv kvstore.Store
}

// NewJournal creates a Journal over kv.
func NewJournal(kv kvstore.Store) *Journal {
	return &Journal{kv: kv}
}

// ListFor returns the address's mood entries, oldest first. A malformed
// stored list is reported as empty; the next Record overwrites it.
func (j *Journal) ListFor(address string) []Entry {
	address = access.NormalizeAddress(address)
	raw, ok := j.kv.Get(kvstore.MoodKey(address))
	if !ok {
		return nil
	}
	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		slog.Warn("discarding unreadable mood journal", "address", address)
		return nil
	}
	return entries
}

// Record validates entry and appends it to the address's journal.
func (j *Journal) Record(address string, entry Entry) error {
	if entry.Mood < 1 || entry.Mood > 5 {
		return fmt.Errorf("%w: got %d", ErrInvalidMood, entry.Mood)
	}
	address = access.NormalizeAddress(address)

	entries := append(j.ListFor(address), entry)
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("mood: marshal journal: %w", err)
	}
	if err := j.kv.Set(kvstore.MoodKey(address), string(raw)); err != nil {
		return fmt.Errorf("mood: persist journal: %w", err)
	}
	return nil
}

// Trend returns the last [TrendWindow] entries for the address, oldest
// first, for the recent-moods chart.
func (j *Journal) Trend(address string) []Entry {
	entries := j.ListFor(address)
	if len(entries) > TrendWindow {
		entries = entries[len(entries)-TrendWindow:]
	}
	return entries
}
