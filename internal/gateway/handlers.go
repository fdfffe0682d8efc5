package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/internal/archive"
	"github.com/aurahq/aura/internal/chat"
	"github.com/aurahq/aura/internal/mood"
	"github.com/aurahq/aura/internal/observe"
	"github.com/aurahq/aura/internal/onboarding"
	"github.com/aurahq/aura/internal/payment"
	"github.com/aurahq/aura/internal/router"
	"github.com/aurahq/aura/internal/transcript"
)

// walletCallTimeout bounds operations that wait on the user's wallet UI.
const walletCallTimeout = 2 * time.Minute

// StateView is the JSON shape of a router decision.
type StateView struct {
	View    string `json:"view"`
	Address string `json:"address,omitempty"`
	Tier    string `json:"tier,omitempty"`

	// TrialRemaining is the human-readable countdown, present during a
	// trial.
	TrialRemaining string `json:"trialRemaining,omitempty"`
	TrialExpiresAt string `json:"trialExpiresAt,omitempty"`

	Onboarding *onboarding.Record `json:"onboarding,omitempty"`
}

func stateView(s router.State) StateView {
	v := StateView{
		View:    string(s.View),
		Address: s.Address,
		Tier:    string(s.Tier),
	}
	if s.TrialExpiresAt != nil {
		v.TrialExpiresAt = s.TrialExpiresAt.UTC().Format(time.RFC3339)
		if s.Tier == access.TierTrial {
			v.TrialRemaining = access.FormatRemaining(*s.TrialExpiresAt, time.Now())
		}
	}
	if s.View == router.ViewDashboard {
		rec := s.Onboarding
		v.Onboarding = &rec
	}
	return v
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// handleConnect asks the client's wallet for its accounts and routes the
// primary one.
func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), walletCallTimeout)
	defer cancel()
	accounts, err := c.bridge.RequestAccounts(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if len(accounts) == 0 {
		writeError(w, http.StatusBadGateway, errors.New("wallet returned no accounts"))
		return
	}

	state, err := c.router.Connect(accounts[0])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stateView(state))
}

// handleState returns the client's current view decision.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, stateView(c.router.State()))
}

// handlePay runs the purchase flow for the connected address.
func (g *Gateway) handlePay(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if g.cfg.Treasury == "" {
		writeError(w, http.StatusNotImplemented, errors.New("payments are not configured"))
		return
	}
	state := c.router.State()
	if state.Address == "" {
		writeError(w, http.StatusConflict, errors.New("no wallet connected"))
		return
	}

	proc, err := payment.New(payment.Config{
		Provider:  c.bridge,
		Ledger:    g.cfg.Ledger,
		Treasury:  g.cfg.Treasury,
		Chain:     g.cfg.Chain,
		AmountWei: g.cfg.AmountWei,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), walletCallTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "gateway.pay")
	defer span.End()
	receipt, err := proc.Purchase(ctx, state.Address)
	if err != nil {
		g.cfg.Metrics.RecordPayment(r.Context(), "failed")
		status := http.StatusBadGateway
		if errors.Is(err, payment.ErrChainDeclined) {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	g.cfg.Metrics.RecordPayment(r.Context(), "ok")

	next, err := c.router.PaymentConfirmed(receipt.Address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tx":    string(receipt.Tx),
		"state": stateView(next),
	})
}

// handleOnboarding validates and stores the onboarding form.
func (g *Gateway) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.Address == "" {
		writeError(w, http.StatusConflict, errors.New("no wallet connected"))
		return
	}

	var rec onboarding.Record
	if err := decodeBody(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := c.router.SubmitOnboarding(state.Address, rec)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, stateView(next))
}

// personaView is the public shape of a companion persona.
type personaView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// handlePersonas lists the available companions.
func (g *Gateway) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	var views []personaView
	for _, id := range g.cfg.Personas.IDs() {
		p, _ := g.cfg.Personas.Lookup(id)
		views = append(views, personaView{ID: p.ID, Name: p.Name, Descriptor: p.Descriptor})
	}
	writeJSON(w, http.StatusOK, views)
}

type sendRequest struct {
	CompanionID string `json:"companionId"`
	Text        string `json:"text"`
}

// handleSend streams one reply. Fragments are pushed to the client's
// WebSocket as they arrive; the response carries the final transcript.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.View != router.ViewDashboard {
		writeError(w, http.StatusConflict, errors.New("chat requires a completed dashboard session"))
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := c.session(g, state.Address, req.CompanionID, state.Onboarding.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, span := observe.StartSpan(r.Context(), "gateway.chat.send")
	defer span.End()

	start := time.Now()
	onFragment := func(pending string) {
		g.cfg.Metrics.CompletionFragments.Add(ctx, 1)
		_ = c.bridge.Push(ctx, "fragment", map[string]string{
			"companionId": req.CompanionID,
			"pending":     pending,
		})
	}
	res, err := s.Send(ctx, req.Text, onFragment)
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, chat.ErrSendInFlight):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, chat.ErrSessionClosed):
		writeError(w, http.StatusGone, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := "ok"
	if res.Fallback {
		status = "fallback"
	}
	g.cfg.Metrics.RecordCompletion(ctx, g.cfg.CompletionBackend, status, time.Since(start).Seconds())

	writeJSON(w, http.StatusOK, map[string]any{
		"transcript": s.Transcript(),
	})
}

// handleTranscript returns the current transcript for a companion.
func (g *Gateway) handleTranscript(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.View != router.ViewDashboard {
		writeError(w, http.StatusConflict, errors.New("no active dashboard session"))
		return
	}
	s, err := c.session(g, state.Address, r.URL.Query().Get("companionId"), state.Onboarding.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transcript":  s.Transcript(),
		"isStreaming": s.IsStreaming(),
	})
}

type exportRequest struct {
	CompanionID string `json:"companionId"`
}

// handleExport uploads the transcript and records an archive entry.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.View != router.ViewDashboard {
		writeError(w, http.StatusConflict, errors.New("no active dashboard session"))
		return
	}

	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s, err := c.session(g, state.Address, req.CompanionID, state.Onboarding.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	hash, err := s.Export(r.Context())
	if err != nil {
		g.cfg.Metrics.RecordExport(r.Context(), "failed")
		writeError(w, http.StatusBadGateway, err)
		return
	}
	g.cfg.Metrics.RecordExport(r.Context(), "ok")
	writeJSON(w, http.StatusOK, map[string]string{"contentHash": hash})
}

// handleArchiveList returns the address's exported conversations, most
// recent first.
func (g *Gateway) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.Address == "" {
		writeError(w, http.StatusConflict, errors.New("no wallet connected"))
		return
	}
	entries := g.cfg.Archive.ListFor(state.Address)
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type moodRequest struct {
	Mood  int    `json:"mood"`
	Notes string `json:"notes"`
}

// handleMoodRecord appends a mood check-in to the connected address's
// journal.
func (g *Gateway) handleMoodRecord(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.Address == "" {
		writeError(w, http.StatusConflict, errors.New("no wallet connected"))
		return
	}

	var req moodRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry := mood.Entry{
		Mood:      req.Mood,
		Notes:     req.Notes,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.cfg.Mood.Record(state.Address, entry); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mood.ErrInvalidMood) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleMoodList returns the connected address's mood journal, oldest first,
// along with the recent entries for the trend chart.
func (g *Gateway) handleMoodList(w http.ResponseWriter, r *http.Request) {
	c, err := g.lookup(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	state := c.router.State()
	if state.Address == "" {
		writeError(w, http.StatusConflict, errors.New("no wallet connected"))
		return
	}
	entries := g.cfg.Mood.ListFor(state.Address)
	if entries == nil {
		entries = []mood.Entry{}
	}
	trend := g.cfg.Mood.Trend(state.Address)
	if trend == nil {
		trend = []mood.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string][]mood.Entry{
		"entries": entries,
		"trend":   trend,
	})
}

// handleArchiveFetch retrieves one exported transcript by content hash.
func (g *Gateway) handleArchiveFetch(w http.ResponseWriter, r *http.Request) {
	if _, err := g.lookup(r); err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	hash := r.PathValue("hash")
	turns, err := g.cfg.Archive.FetchByHash(r.Context(), hash)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, archive.ErrCorruptArchive) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]transcript.Transcript{"messages": turns})
}
