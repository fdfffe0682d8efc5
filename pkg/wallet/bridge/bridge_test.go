package bridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/aurahq/aura/pkg/wallet"
	"github.com/aurahq/aura/pkg/wallet/bridge"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// startBridge spins up a WebSocket endpoint, builds a Bridge around the
// server-side connection and returns it together with the client-side
// connection that plays the wallet.
func startBridge(t *testing.T) (*bridge.Bridge, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		accepted <- conn
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "test done") })

	b := bridge.New(<-accepted)
	t.Cleanup(func() { b.Close() })
	return b, client
}

type clientMessage struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func readRequest(t *testing.T, conn *websocket.Conn) clientMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("read request: %v", err)
		return clientMessage{}
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Errorf("decode request: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Errorf("write: %v", err)
	}
}

// respond answers exactly one request using result, or an error object when
// code is non-zero.
func respond(t *testing.T, conn *websocket.Conn, method string, result any, code int) {
	t.Helper()
	req := readRequest(t, conn)
	if req.Method != method {
		t.Errorf("wallet client saw method %q, want %q", req.Method, method)
		return
	}
	reply := map[string]any{"id": req.ID}
	if code != 0 {
		reply["error"] = map[string]any{"code": code, "message": "scripted failure"}
	} else {
		reply["result"] = result
	}
	send(t, conn, reply)
}

// ── Calls ────────────────────────────────────────────────────────────────────

func TestRequestAccounts(t *testing.T) {
	b, client := startBridge(t)

	go respond(t, client, "eth_requestAccounts", []string{"0xAAA", "0xBBB"}, 0)

	accounts, err := b.RequestAccounts(context.Background())
	if err != nil {
		t.Fatalf("RequestAccounts: %v", err)
	}
	if len(accounts) != 2 || accounts[0] != "0xAAA" {
		t.Errorf("accounts: got %v", accounts)
	}
}

func TestRequestAccounts_UserRejection(t *testing.T) {
	b, client := startBridge(t)

	go respond(t, client, "eth_requestAccounts", nil, 4001)

	_, err := b.RequestAccounts(context.Background())
	if !errors.Is(err, wallet.ErrUserRejected) {
		t.Errorf("got %v, want ErrUserRejected", err)
	}
}

func TestSwitchChain_UnknownChainCode(t *testing.T) {
	b, client := startBridge(t)

	go respond(t, client, "wallet_switchEthereumChain", nil, 4902)

	err := b.SwitchChain(context.Background(), "0x13882")
	if !errors.Is(err, wallet.ErrUnknownChain) {
		t.Errorf("got %v, want ErrUnknownChain", err)
	}
}

func TestSendValueTransfer_EncodesHexWei(t *testing.T) {
	b, client := startBridge(t)

	type txParams struct {
		To    string `json:"to"`
		Value string `json:"value"`
	}
	got := make(chan txParams, 1)
	go func() {
		req := readRequest(t, client)
		var params []txParams
		if err := json.Unmarshal(req.Params, &params); err != nil || len(params) != 1 {
			t.Errorf("decode tx params: %v (%s)", err, req.Params)
		} else {
			got <- params[0]
		}
		send(t, client, map[string]any{"id": req.ID, "result": "0xdeadbeef"})
	}()

	amount := new(big.Int)
	amount.SetString("10000000000000000", 10) // 0.01 in 18-decimal native units
	tx, err := b.SendValueTransfer(context.Background(), "0xRECIPIENT", amount)
	if err != nil {
		t.Fatalf("SendValueTransfer: %v", err)
	}
	if tx != wallet.TxHandle("0xdeadbeef") {
		t.Errorf("tx handle: got %q", tx)
	}

	params := <-got
	if params.To != "0xRECIPIENT" {
		t.Errorf("to: got %q", params.To)
	}
	if params.Value != "0x2386f26fc10000" {
		t.Errorf("value: got %q, want 0x2386f26fc10000", params.Value)
	}
}

func TestSendValueTransfer_RejectsNonPositiveAmount(t *testing.T) {
	b, _ := startBridge(t)

	if _, err := b.SendValueTransfer(context.Background(), "0xRECIPIENT", big.NewInt(0)); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := b.SendValueTransfer(context.Background(), "0xRECIPIENT", nil); err == nil {
		t.Error("expected error for nil amount")
	}
}

func TestAwaitConfirmation(t *testing.T) {
	b, client := startBridge(t)

	go respond(t, client, "aura_awaitConfirmation", true, 0)

	if err := b.AwaitConfirmation(context.Background(), "0xdeadbeef"); err != nil {
		t.Fatalf("AwaitConfirmation: %v", err)
	}
}

// ── Events and lifecycle ─────────────────────────────────────────────────────

func TestAccountsChangedEventIsDelivered(t *testing.T) {
	b, client := startBridge(t)

	send(t, client, map[string]any{
		"event":  "accountsChanged",
		"params": []string{"0xCCC"},
	})

	select {
	case accounts := <-b.AccountsChanged():
		if len(accounts) != 1 || accounts[0] != "0xCCC" {
			t.Errorf("accounts: got %v", accounts)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("accountsChanged event never arrived")
	}
}

func TestCallContextCancellation(t *testing.T) {
	b, _ := startBridge(t) // wallet client never answers

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.RequestAccounts(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want DeadlineExceeded", err)
	}
}

func TestConnectionLossFailsPendingAndClosesEvents(t *testing.T) {
	b, client := startBridge(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.RequestAccounts(context.Background())
		errCh <- err
	}()

	// Give the call time to register, then kill the wallet side.
	time.Sleep(50 * time.Millisecond)
	client.Close(websocket.StatusGoingAway, "wallet gone")

	select {
	case err := <-errCh:
		if !errors.Is(err, wallet.ErrNoProvider) {
			t.Errorf("pending call: got %v, want ErrNoProvider", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending call never failed")
	}

	select {
	case _, open := <-b.AccountsChanged():
		if open {
			t.Error("accounts channel delivered instead of closing")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("accounts channel never closed")
	}

	select {
	case <-b.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Done never closed")
	}
}
