package router_test

import (
	"errors"
	"testing"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/onboarding"
	"github.com/aurahq/aura/internal/persona"
	"github.com/aurahq/aura/internal/router"
	"github.com/aurahq/aura/pkg/kvstore"
)

type recordingNotifier struct {
	trialStarts []string
}

func (n *recordingNotifier) TrialStarted(address string, _ time.Time) {
	n.trialStarts = append(n.trialStarts, address)
}

type fixture struct {
	kv       *kvstore.MemStore
	ledger   *access.Ledger
	manager  *onboarding.Manager
	notifier *recordingNotifier
	router   *router.Router
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := persona.NewRegistry(persona.Defaults())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	kv := kvstore.NewMemStore()
	f := &fixture{
		kv:       kv,
		ledger:   access.NewLedger(kv, 3*24*time.Hour, 30*24*time.Hour),
		manager:  onboarding.NewManager(kv, reg),
		notifier: &recordingNotifier{},
		now:      time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	f.router = router.New(router.Config{
		Store:      kv,
		Ledger:     f.ledger,
		Onboarding: f.manager,
		Notifier:   f.notifier,
		Now:        func() time.Time { return f.now },
	})
	return f
}

func (f *fixture) completeOnboarding(t *testing.T, address string) {
	t.Helper()
	err := f.manager.Save(address, onboarding.Record{
		Name:      "Sam",
		Mood:      "calm",
		Companion: "luna",
	})
	if err != nil {
		t.Fatalf("Save onboarding: %v", err)
	}
}

func TestNew_StartsAtLanding(t *testing.T) {
	f := newFixture(t)
	if got := f.router.State().View; got != router.ViewLanding {
		t.Errorf("initial view: got %q, want landing", got)
	}
}

func TestConnect_FreshAddressGetsTrialAndOnboarding(t *testing.T) {
	f := newFixture(t)

	state, err := f.router.Connect("0xABC")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state.View != router.ViewOnboarding {
		t.Errorf("view: got %q, want onboarding", state.View)
	}
	if state.Tier != access.TierTrial {
		t.Errorf("tier: got %q, want trial", state.Tier)
	}
	if state.Address != "0xabc" {
		t.Errorf("address not normalized: got %q", state.Address)
	}
	if len(f.notifier.trialStarts) != 1 || f.notifier.trialStarts[0] != "0xabc" {
		t.Errorf("trial notifications: got %v, want exactly one for 0xabc", f.notifier.trialStarts)
	}

	// Connecting again must not re-fire the one-time notification.
	if _, err := f.router.Connect("0xABC"); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.trialStarts) != 1 {
		t.Errorf("trial notifications after reconnect: got %d, want 1", len(f.notifier.trialStarts))
	}
}

func TestConnect_OnboardedAddressReachesDashboard(t *testing.T) {
	f := newFixture(t)
	f.completeOnboarding(t, "0xabc")

	state, err := f.router.Connect("0xABC")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state.View != router.ViewDashboard {
		t.Errorf("view: got %q, want dashboard", state.View)
	}
	if state.Onboarding.Name != "Sam" || state.Onboarding.Companion != "luna" {
		t.Errorf("onboarding on state: got %+v", state.Onboarding)
	}
}

func TestConnect_ExpiredTrialLandsOnPayment(t *testing.T) {
	f := newFixture(t)

	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(4 * 24 * time.Hour) // past the 3-day trial

	state, err := f.router.Connect("0xabc")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if state.View != router.ViewPayment {
		t.Errorf("view: got %q, want payment", state.View)
	}
	if state.Tier != access.TierNone {
		t.Errorf("tier: got %q, want none", state.Tier)
	}
}

func TestPaymentConfirmed_ReEvaluatesAccess(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(4 * 24 * time.Hour)
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ledger.RecordPayment("0xabc", f.now); err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}
	state, err := f.router.PaymentConfirmed("0xabc")
	if err != nil {
		t.Fatalf("PaymentConfirmed: %v", err)
	}
	if state.View != router.ViewOnboarding {
		t.Errorf("view after payment: got %q, want onboarding", state.View)
	}
	if state.Tier != access.TierActive {
		t.Errorf("tier after payment: got %q, want active", state.Tier)
	}
}

func TestSubmitOnboarding_ValidRecordMovesToDashboard(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}

	state, err := f.router.SubmitOnboarding("0xabc", onboarding.Record{
		Name:      "Sam",
		Companion: "orion",
	})
	if err != nil {
		t.Fatalf("SubmitOnboarding: %v", err)
	}
	if state.View != router.ViewDashboard {
		t.Errorf("view: got %q, want dashboard", state.View)
	}
}

func TestSubmitOnboarding_InvalidRecordKeepsState(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}
	before := f.router.State()

	_, err := f.router.SubmitOnboarding("0xabc", onboarding.Record{
		Name:      "",
		Companion: "luna",
	})
	if err == nil {
		t.Fatal("expected validation error for empty name")
	}
	if got := f.router.State(); got != before {
		t.Errorf("state changed on invalid submit: got %+v", got)
	}
}

func TestHandleAccountsChanged_EmptyListReturnsToLanding(t *testing.T) {
	f := newFixture(t)
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.kv.Get(kvstore.KeyLastConnected); !ok {
		t.Fatal("connect did not store the last-connected pointer")
	}

	state, err := f.router.HandleAccountsChanged(nil)
	if err != nil {
		t.Fatalf("HandleAccountsChanged: %v", err)
	}
	if state.View != router.ViewLanding {
		t.Errorf("view: got %q, want landing", state.View)
	}
	if state.Address != "" {
		t.Errorf("address not cleared: %q", state.Address)
	}
	if _, ok := f.kv.Get(kvstore.KeyLastConnected); ok {
		t.Error("last-connected pointer survived disconnect")
	}
	// Per-address records stay in storage.
	if _, ok := f.kv.Get(kvstore.AccessKey("0xabc")); !ok {
		t.Error("access record was deleted on disconnect")
	}
}

func TestHandleAccountsChanged_NewAccountReEvaluatesFromScratch(t *testing.T) {
	f := newFixture(t)
	f.completeOnboarding(t, "0xaaa")
	if _, err := f.router.Connect("0xAAA"); err != nil {
		t.Fatal(err)
	}
	if got := f.router.State().View; got != router.ViewDashboard {
		t.Fatalf("precondition: got %q, want dashboard", got)
	}

	// 0xbbb has never onboarded; the dashboard decision for 0xaaa must not
	// leak over.
	state, err := f.router.HandleAccountsChanged([]string{"0xBBB"})
	if err != nil {
		t.Fatalf("HandleAccountsChanged: %v", err)
	}
	if state.View != router.ViewOnboarding {
		t.Errorf("view for new account: got %q, want onboarding", state.View)
	}
	if state.Address != "0xbbb" {
		t.Errorf("address: got %q, want 0xbbb", state.Address)
	}
	if got, _ := f.kv.Get(kvstore.KeyLastConnected); got != "0xbbb" {
		t.Errorf("last-connected pointer: got %q, want 0xbbb", got)
	}
}

// pointerFailStore fails every write to the last-connected pointer while
// leaving all other keys working.
type pointerFailStore struct {
	kvstore.Store
	err error
}

func (s pointerFailStore) Set(key, value string) error {
	if key == kvstore.KeyLastConnected {
		return s.err
	}
	return s.Store.Set(key, value)
}

func (s pointerFailStore) Remove(key string) error {
	if key == kvstore.KeyLastConnected {
		return s.err
	}
	return s.Store.Remove(key)
}

func TestPointerWriteFailureDoesNotBlockTransitions(t *testing.T) {
	f := newFixture(t)
	flaky := pointerFailStore{Store: f.kv, err: errors.New("disk full")}
	r := router.New(router.Config{
		Store:      flaky,
		Ledger:     f.ledger,
		Onboarding: f.manager,
		Now:        func() time.Time { return f.now },
	})

	state, err := r.Connect("0xabc")
	if err != nil {
		t.Fatalf("Connect with failing pointer write: %v", err)
	}
	if state.View != router.ViewOnboarding {
		t.Errorf("view: got %q, want onboarding", state.View)
	}

	state, err = r.HandleAccountsChanged(nil)
	if err != nil {
		t.Fatalf("disconnect with failing pointer remove: %v", err)
	}
	if state.View != router.ViewLanding {
		t.Errorf("view after disconnect: got %q, want landing", state.View)
	}
}

func TestResume_UsesStoredPointer(t *testing.T) {
	f := newFixture(t)
	f.completeOnboarding(t, "0xabc")
	if _, err := f.router.Connect("0xabc"); err != nil {
		t.Fatal(err)
	}

	// A fresh router on the same store resumes straight to the dashboard.
	fresh := router.New(router.Config{
		Store:      f.kv,
		Ledger:     f.ledger,
		Onboarding: f.manager,
		Now:        func() time.Time { return f.now },
	})
	state, err := fresh.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.View != router.ViewDashboard || state.Address != "0xabc" {
		t.Errorf("resumed state: got %+v", state)
	}
}

func TestResume_NoPointerStaysOnLanding(t *testing.T) {
	f := newFixture(t)
	state, err := f.router.Resume()
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if state.View != router.ViewLanding {
		t.Errorf("view: got %q, want landing", state.View)
	}
}
