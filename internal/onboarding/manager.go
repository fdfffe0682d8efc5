// Package onboarding validates and stores the one-time user profile captured
// after first payment or trial start: display name, current mood, chosen
// companion, and an optional emergency contact.
//
// Stored records are treated with suspicion: anything that fails to parse or
// is missing a required field is deleted and reported as absent, forcing the
// user back through onboarding rather than crashing a view on corrupt data.
package onboarding

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/persona"
	"github.com/aurahq/aura/pkg/kvstore"
)

// recordVersion is the schema version written into every persisted record.
const recordVersion = 1

// ErrInvalidRecord is returned by [Manager.Save] when a record fails
// validation.
var ErrInvalidRecord = errors.New("onboarding: invalid record")

// EmergencyContact is an optional person to surface in a crisis. Both fields
// may be empty.
type EmergencyContact struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// Record is the one-time onboarding profile for a wallet address. It is
// immutable after creation.
type Record struct {
	Version          int              `json:"version"`
	Name             string           `json:"name"`
	Mood             string           `json:"mood"`
	Companion        string           `json:"companion"`
	EmergencyContact EmergencyContact `json:"emergencyContact"`
}

// Complete reports whether the record carries the fields the router needs to
// route to the dashboard.
func (r Record) Complete() bool {
	return r.Name != "" && r.Companion != ""
}

// Manager loads and saves onboarding records through a [kvstore.Store].
type Manager struct {
	store    kvstore.Store
	personas *persona.Registry
}

// NewManager creates a Manager validating companion choices against reg.
func NewManager(store kvstore.Store, reg *persona.Registry) *Manager {
	return &Manager{store: store, personas: reg}
}

// Load returns the stored record for address, or absent. A malformed or
// structurally invalid stored value is removed before returning absent, so
// the corruption heals itself instead of resurfacing on every load.
func (m *Manager) Load(address string) (Record, bool) {
	address = access.NormalizeAddress(address)
	key := kvstore.OnboardingKey(address)

	raw, ok := m.store.Get(key)
	if !ok {
		return Record{}, false
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Version != recordVersion || !rec.Complete() {
		slog.Warn("discarding invalid onboarding record", "address", address)
		if err := m.store.Remove(key); err != nil {
			slog.Warn("failed to remove invalid onboarding record", "address", address, "err", err)
		}
		return Record{}, false
	}
	return rec, true
}

// Save validates and persists rec for address. The name must be non-empty
// and the companion must be a registered persona.
func (m *Manager) Save(address string, rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidRecord)
	}
	if _, ok := m.personas.Lookup(rec.Companion); !ok {
		return fmt.Errorf("%w: unknown companion %q", ErrInvalidRecord, rec.Companion)
	}

	address = access.NormalizeAddress(address)
	rec.Version = recordVersion

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("onboarding: marshal record: %w", err)
	}
	if err := m.store.Set(kvstore.OnboardingKey(address), string(raw)); err != nil {
		return fmt.Errorf("onboarding: persist record: %w", err)
	}
	slog.Info("onboarding complete", "address", address, "companion", rec.Companion)
	return nil
}
