// Package bridge implements wallet.Provider over a WebSocket connection to
// the user's wallet client. The server side (this package) sends
// EIP-1193-style requests correlated by id; the client executes them in the
// actual wallet and sends back responses, plus unsolicited accountsChanged
// events.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/aurahq/aura/pkg/wallet"
)

// EIP-1193 provider error codes forwarded by wallet clients.
const (
	codeUserRejected = 4001
	codeUnknownChain = 4902
)

// Wallet request methods, following the Ethereum provider convention where
// one exists.
const (
	methodRequestAccounts   = "eth_requestAccounts"
	methodChainID           = "eth_chainId"
	methodSwitchChain       = "wallet_switchEthereumChain"
	methodAddChain          = "wallet_addEthereumChain"
	methodSendTransaction   = "eth_sendTransaction"
	methodAwaitConfirmation = "aura_awaitConfirmation"
)

// request is one server-to-client wallet call.
type request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is the client's answer to a request, or an unsolicited event when
// Event is set and ID is empty.
type response struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *responseError  `json:"error,omitempty"`

	Event  string          `json:"event,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type responseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Bridge is a wallet.Provider backed by one connected wallet client. It is
// bound to the lifetime of its WebSocket connection; when the connection
// drops, all pending calls fail and the accounts channel is closed.
type Bridge struct {
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan response
	closed  bool

	accounts chan []string
	done     chan struct{}
}

var _ wallet.Provider = (*Bridge)(nil)

// New wraps an accepted WebSocket connection and starts the read loop. The
// caller hands over ownership of conn; Close tears it down.
func New(conn *websocket.Conn) *Bridge {
	b := &Bridge{
		conn:     conn,
		pending:  make(map[string]chan response),
		accounts: make(chan []string, 4),
		done:     make(chan struct{}),
	}
	go b.readLoop()
	return b
}

// Close tears the connection down and fails all pending calls.
func (b *Bridge) Close() error {
	err := b.conn.Close(websocket.StatusNormalClosure, "bridge closed")
	<-b.done
	return err
}

// Done is closed when the read loop exits, i.e. when the wallet client is
// gone for good.
func (b *Bridge) Done() <-chan struct{} { return b.done }

func (b *Bridge) readLoop() {
	defer close(b.done)
	defer b.failPending()

	for {
		_, data, err := b.conn.Read(context.Background())
		if err != nil {
			slog.Debug("wallet bridge: connection closed", "err", err)
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("wallet bridge: malformed message dropped", "err", err)
			continue
		}
		if resp.Event != "" {
			b.dispatchEvent(resp)
			continue
		}

		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if !ok {
			slog.Warn("wallet bridge: response for unknown request", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (b *Bridge) dispatchEvent(resp response) {
	if resp.Event != "accountsChanged" {
		slog.Debug("wallet bridge: ignoring event", "event", resp.Event)
		return
	}
	var accounts []string
	if err := json.Unmarshal(resp.Params, &accounts); err != nil {
		slog.Warn("wallet bridge: malformed accountsChanged event", "err", err)
		return
	}
	select {
	case b.accounts <- accounts:
	default:
		slog.Warn("wallet bridge: accountsChanged dropped, consumer too slow")
	}
}

// failPending is called once, when the read loop exits.
func (b *Bridge) failPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.pending {
		close(ch)
		delete(b.pending, id)
	}
	close(b.accounts)
}

// call sends one request and blocks for its response.
func (b *Bridge) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		var err error
		rawParams, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("bridge: encode params: %w", err)
		}
	}

	id := uuid.NewString()
	ch := make(chan response, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, wallet.ErrNoProvider
	}
	b.pending[id] = ch
	b.mu.Unlock()

	payload, err := json.Marshal(request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		b.abandon(id)
		return nil, fmt.Errorf("bridge: encode request: %w", err)
	}
	if err := b.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		b.abandon(id)
		return nil, fmt.Errorf("bridge: send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, wallet.ErrNoProvider
		}
		if resp.Error != nil {
			return nil, mapError(method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		b.abandon(id)
		return nil, ctx.Err()
	}
}

func (b *Bridge) abandon(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// mapError translates wallet client error codes into the sentinel errors
// callers branch on, keeping the client's message for display.
func mapError(method string, re *responseError) error {
	switch re.Code {
	case codeUserRejected:
		return fmt.Errorf("%w: %s", wallet.ErrUserRejected, re.Message)
	case codeUnknownChain:
		return fmt.Errorf("%w: %s", wallet.ErrUnknownChain, re.Message)
	default:
		return fmt.Errorf("bridge: %s failed (code %d): %s", method, re.Code, re.Message)
	}
}

// Push sends a fire-and-forget event frame to the wallet client. Used to
// relay server-side events (chat fragments, notices) over the same
// connection; no response is expected or correlated.
func (b *Bridge) Push(ctx context.Context, event string, params any) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("bridge: encode event params: %w", err)
	}
	payload, err := json.Marshal(response{Event: event, Params: rawParams})
	if err != nil {
		return fmt.Errorf("bridge: encode event: %w", err)
	}
	if err := b.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("bridge: push %s: %w", event, err)
	}
	return nil
}

// RequestAccounts implements wallet.Provider.
func (b *Bridge) RequestAccounts(ctx context.Context) ([]string, error) {
	raw, err := b.call(ctx, methodRequestAccounts, nil)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("bridge: decode accounts: %w", err)
	}
	return accounts, nil
}

// ChainID implements wallet.Provider.
func (b *Bridge) ChainID(ctx context.Context) (string, error) {
	raw, err := b.call(ctx, methodChainID, nil)
	if err != nil {
		return "", err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("bridge: decode chain id: %w", err)
	}
	return id, nil
}

// SwitchChain implements wallet.Provider.
func (b *Bridge) SwitchChain(ctx context.Context, chainID string) error {
	_, err := b.call(ctx, methodSwitchChain, []any{map[string]string{"chainId": chainID}})
	return err
}

// AddChain implements wallet.Provider.
func (b *Bridge) AddChain(ctx context.Context, chain wallet.ChainDescriptor) error {
	_, err := b.call(ctx, methodAddChain, []wallet.ChainDescriptor{chain})
	return err
}

// txParams mirrors the eth_sendTransaction parameter object. Value is
// hex-encoded wei.
type txParams struct {
	To    string `json:"to"`
	Value string `json:"value"`
}

// SendValueTransfer implements wallet.Provider.
func (b *Bridge) SendValueTransfer(ctx context.Context, to string, amountWei *big.Int) (wallet.TxHandle, error) {
	if amountWei == nil || amountWei.Sign() <= 0 {
		return "", errors.New("bridge: transfer amount must be positive")
	}
	params := []txParams{{To: to, Value: "0x" + amountWei.Text(16)}}
	raw, err := b.call(ctx, methodSendTransaction, params)
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return "", fmt.Errorf("bridge: decode tx hash: %w", err)
	}
	return wallet.TxHandle(hash), nil
}

// AwaitConfirmation implements wallet.Provider.
func (b *Bridge) AwaitConfirmation(ctx context.Context, tx wallet.TxHandle) error {
	_, err := b.call(ctx, methodAwaitConfirmation, []string{string(tx)})
	return err
}

// AccountsChanged implements wallet.Provider.
func (b *Bridge) AccountsChanged() <-chan []string { return b.accounts }
