// Package access derives a wallet's access tier (none, trial, or active
// subscription) from persisted expiry timestamps and mutates that state on
// payment and trial-bootstrap events.
//
// The ledger is the single writer of access records. Evaluation is safe to
// run on every routing decision: it is idempotent except for the one-time
// trial bootstrap, which fires at most once per address because the presence
// of a trial expiry — even an expired one — suppresses any further bootstrap.
package access

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aurahq/aura/pkg/kvstore"
)

// recordVersion is the schema version written into every persisted record.
// Records with an unknown version are treated as absent.
const recordVersion = 1

// Tier is the access level derived from subscription and trial state.
type Tier string

const (
	// TierNone grants no access: any trial has expired and no subscription
	// is active.
	TierNone Tier = "none"

	// TierTrial grants access through an unexpired free trial.
	TierTrial Tier = "trial"

	// TierActive grants access through an unexpired paid subscription.
	// Subscription always takes priority over trial.
	TierActive Tier = "active"
)

// Record is the persisted access state for one wallet address.
type Record struct {
	Version int `json:"version"`

	// SubscriptionExpiresAt is when the paid subscription lapses. Nil when
	// the address has never paid.
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt,omitempty"`

	// TrialExpiresAt is when the free trial lapses. Nil only when no trial
	// has ever been started — which is precisely the trigger to start one.
	TrialExpiresAt *time.Time `json:"trialExpiresAt,omitempty"`
}

// Result is the outcome of one access evaluation.
type Result struct {
	Tier   Tier
	Record Record

	// TrialStarted is true on the single evaluation that bootstrapped a new
	// trial for this address. Callers use it to show the one-time
	// trial-started notification.
	TrialStarted bool
}

// Ledger evaluates and mutates access records through a [kvstore.Store].
// Durations are configuration: the reference policy is a 3-day trial and a
// 30-day subscription term.
type Ledger struct {
	store            kvstore.Store
	trialTerm        time.Duration
	subscriptionTerm time.Duration
}

// NewLedger creates a Ledger with the given terms. Non-positive terms fall
// back to the reference policy.
func NewLedger(store kvstore.Store, trialTerm, subscriptionTerm time.Duration) *Ledger {
	if trialTerm <= 0 {
		trialTerm = 3 * 24 * time.Hour
	}
	if subscriptionTerm <= 0 {
		subscriptionTerm = 30 * 24 * time.Hour
	}
	return &Ledger{
		store:            store,
		trialTerm:        trialTerm,
		subscriptionTerm: subscriptionTerm,
	}
}

// NormalizeAddress canonicalizes a wallet address for use as a partition key.
// All persisted state is namespaced by the normalized form.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Evaluate determines the current tier for address at time now, starting a
// trial if and only if one has never been started. Evaluation order:
// unexpired subscription, then unexpired trial, then trial bootstrap, then
// none.
func (l *Ledger) Evaluate(address string, now time.Time) (Result, error) {
	address = NormalizeAddress(address)
	rec := l.load(address)

	if rec.SubscriptionExpiresAt != nil && rec.SubscriptionExpiresAt.After(now) {
		return Result{Tier: TierActive, Record: rec}, nil
	}

	if rec.TrialExpiresAt != nil {
		if rec.TrialExpiresAt.After(now) {
			return Result{Tier: TierTrial, Record: rec}, nil
		}
		return Result{Tier: TierNone, Record: rec}, nil
	}

	// Trial never started: bootstrap it. The only place a trial is created.
	expiry := now.Add(l.trialTerm)
	rec.Version = recordVersion
	rec.TrialExpiresAt = &expiry
	if err := l.persist(address, rec); err != nil {
		return Result{}, err
	}
	slog.Info("trial started", "address", address, "expires_at", expiry)
	return Result{Tier: TierTrial, Record: rec, TrialStarted: true}, nil
}

// RecordPayment unconditionally grants a fresh subscription term from now and
// clears any trial. The caller asserts the payment succeeded; the ledger
// performs no verification — this is the documented trust boundary.
func (l *Ledger) RecordPayment(address string, now time.Time) (Record, error) {
	address = NormalizeAddress(address)
	rec := l.load(address)

	expiry := now.Add(l.subscriptionTerm)
	rec.Version = recordVersion
	rec.SubscriptionExpiresAt = &expiry
	rec.TrialExpiresAt = nil

	if err := l.persist(address, rec); err != nil {
		return Record{}, err
	}
	slog.Info("subscription recorded", "address", address, "expires_at", expiry)
	return rec, nil
}

// load reads the record for address, treating absent, malformed, and
// unknown-version payloads as an empty record.
func (l *Ledger) load(address string) Record {
	raw, ok := l.store.Get(kvstore.AccessKey(address))
	if !ok {
		return Record{}
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Version != recordVersion {
		slog.Warn("discarding unreadable access record", "address", address)
		return Record{}
	}
	return rec
}

func (l *Ledger) persist(address string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("access: marshal record: %w", err)
	}
	if err := l.store.Set(kvstore.AccessKey(address), string(raw)); err != nil {
		return fmt.Errorf("access: persist record: %w", err)
	}
	return nil
}
