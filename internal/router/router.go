// Package router is the application state machine. It maps the combination
// of wallet-connection state, access tier and onboarding completeness to
// exactly one view, and owns the side effects of each transition: the
// last-connected pointer, the trial-started notification, and the in-memory
// reset on disconnect.
package router

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/onboarding"
	"github.com/aurahq/aura/pkg/kvstore"
)

// View identifies the single screen the application should render.
type View string

const (
	// ViewLanding is the signed-out entry view, shown before a wallet is
	// connected and again after a disconnect.
	ViewLanding View = "landing"

	// ViewPayment is shown when the connected address has neither a valid
	// subscription nor a running trial.
	ViewPayment View = "payment"

	// ViewOnboarding is shown when the address has access but no complete
	// onboarding record yet.
	ViewOnboarding View = "onboarding"

	// ViewDashboard is the companion selection and chat surface.
	ViewDashboard View = "dashboard"
)

// State is the router's full decision for the current moment. Everything a
// renderer needs is here; nothing is computed by the view layer.
type State struct {
	View    View
	Address string

	// Tier and TrialExpiresAt are set for every connected view.
	Tier           access.Tier
	TrialExpiresAt *time.Time

	// Onboarding is populated only on the dashboard.
	Onboarding onboarding.Record
}

// Notifier receives transition side effects that the user must see. The
// router never swallows them.
type Notifier interface {
	// TrialStarted fires exactly once per address, at the moment the access
	// ledger bootstraps a trial.
	TrialStarted(address string, expiresAt time.Time)
}

// NopNotifier discards all notifications.
type NopNotifier struct{}

var _ Notifier = NopNotifier{}

func (NopNotifier) TrialStarted(string, time.Time) {}

// Router computes which view is active for the current wallet state. It
// never caches a decision across addresses: every account change re-runs the
// full access and onboarding evaluation.
type Router struct {
	mu sync.Mutex

	kv         kvstore.Store
	ledger     *access.Ledger
	onboarding *onboarding.Manager
	notifier   Notifier
	now        func() time.Time

	state State
}

// Config holds the collaborators of a [Router].
type Config struct {
	Store      kvstore.Store
	Ledger     *access.Ledger
	Onboarding *onboarding.Manager

	// Notifier receives transition side effects. Nil means discard.
	Notifier Notifier

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// New constructs a router in the landing state.
func New(cfg Config) *Router {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		kv:         cfg.Store,
		ledger:     cfg.Ledger,
		onboarding: cfg.Onboarding,
		notifier:   notifier,
		now:        now,
		state:      State{View: ViewLanding},
	}
}

// State returns the current decision.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Connect transitions from any state to the connected flow for address: the
// access ledger and onboarding record are evaluated from scratch and the
// last-connected pointer is updated.
func (r *Router) Connect(address string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluate(address)
}

// Resume re-enters the connected flow for the address stored by the last
// successful connect. Returns the landing state when no address is stored;
// the caller then waits for an explicit connect.
func (r *Router) Resume() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	address, ok := r.kv.Get(kvstore.KeyLastConnected)
	if !ok || address == "" {
		r.state = State{View: ViewLanding}
		return r.state, nil
	}
	return r.evaluate(address)
}

// HandleAccountsChanged reacts to the wallet's accounts-changed event. An
// empty list is a disconnect: the router returns to landing and drops its
// in-memory decision, leaving all per-address records in storage untouched
// except the last-connected pointer. A non-empty list switches to the first
// account and re-evaluates everything for it.
func (r *Router) HandleAccountsChanged(accounts []string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(accounts) == 0 || accounts[0] == "" {
		if err := r.kv.Remove(kvstore.KeyLastConnected); err != nil {
			slog.Warn("router: clear last-connected pointer failed", "err", err)
		}
		r.state = State{View: ViewLanding}
		return r.state, nil
	}
	return r.evaluate(accounts[0])
}

// PaymentConfirmed re-runs the access check after the payment processor
// reports success. The ledger mutation itself belongs to the processor; the
// router only decides where the now-subscribed user lands.
func (r *Router) PaymentConfirmed(address string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluate(address)
}

// SubmitOnboarding validates and persists the onboarding record, then moves
// to the dashboard. An invalid record leaves the state unchanged.
func (r *Router) SubmitOnboarding(address string, rec onboarding.Record) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.onboarding.Save(address, rec); err != nil {
		return r.state, err
	}
	return r.evaluate(address)
}

// evaluate is the single decision function: it computes the view for address
// from the access tier and the onboarding record, never reusing anything
// decided for a different address. Caller must hold r.mu.
func (r *Router) evaluate(address string) (State, error) {
	address = access.NormalizeAddress(address)

	result, err := r.ledger.Evaluate(address, r.now())
	if err != nil {
		return r.state, fmt.Errorf("router: evaluate access: %w", err)
	}
	if result.TrialStarted {
		r.notifier.TrialStarted(address, *result.Record.TrialExpiresAt)
	}

	// The pointer is a presentation convenience; a failed write must not
	// block the connect itself.
	if err := r.kv.Set(kvstore.KeyLastConnected, address); err != nil {
		slog.Warn("router: persist last-connected pointer failed",
			"address", address, "err", err)
	}

	next := State{
		Address:        address,
		Tier:           result.Tier,
		TrialExpiresAt: result.Record.TrialExpiresAt,
	}
	switch {
	case result.Tier == access.TierNone:
		next.View = ViewPayment
	default:
		rec, ok := r.onboarding.Load(address)
		if !ok {
			next.View = ViewOnboarding
		} else {
			next.View = ViewDashboard
			next.Onboarding = rec
		}
	}

	r.state = next
	return next, nil
}
