// Package wallet defines the provider-agnostic interface to the user's
// crypto wallet: account discovery, chain management, value transfers and
// the accounts-changed event stream. Implementations live in subpackages.
package wallet

import (
	"context"
	"errors"
	"math/big"
)

var (
	// ErrNoProvider indicates no wallet is reachable at all.
	ErrNoProvider = errors.New("wallet: no provider available")

	// ErrUserRejected indicates the user declined the request in their
	// wallet. Terminal for the operation; nothing is retried automatically.
	ErrUserRejected = errors.New("wallet: user rejected the request")

	// ErrUnknownChain indicates the wallet does not know the requested
	// chain. Recoverable by AddChain followed by another SwitchChain.
	ErrUnknownChain = errors.New("wallet: unknown chain")
)

// ChainDescriptor describes a chain well enough for a wallet to add it.
type ChainDescriptor struct {
	ChainID           string   `json:"chainId"`
	Name              string   `json:"chainName"`
	RPCURLs           []string `json:"rpcUrls"`
	CurrencyName      string   `json:"currencyName"`
	CurrencySymbol    string   `json:"currencySymbol"`
	CurrencyDecimals  int      `json:"currencyDecimals"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

// TxHandle identifies a submitted transaction for confirmation polling.
type TxHandle string

// Provider is the wallet collaborator. All calls block on user interaction
// in the wallet UI, so every one takes a context; none of them has an
// implicit timeout.
type Provider interface {
	// RequestAccounts prompts the user to connect and returns the connected
	// addresses, first one primary. Fails with ErrUserRejected when they
	// decline.
	RequestAccounts(ctx context.Context) ([]string, error)

	// ChainID returns the wallet's currently selected chain id, hex-encoded
	// with 0x prefix.
	ChainID(ctx context.Context) (string, error)

	// SwitchChain asks the wallet to select chainID. Fails with
	// ErrUnknownChain when the wallet has never seen the chain and with
	// ErrUserRejected when the user declines the switch.
	SwitchChain(ctx context.Context, chainID string) error

	// AddChain registers a chain with the wallet.
	AddChain(ctx context.Context, chain ChainDescriptor) error

	// SendValueTransfer submits a plain native-currency transfer of
	// amountWei to the given address and returns a handle for confirmation.
	SendValueTransfer(ctx context.Context, to string, amountWei *big.Int) (TxHandle, error)

	// AwaitConfirmation blocks until the transaction is mined or fails.
	AwaitConfirmation(ctx context.Context, tx TxHandle) error

	// AccountsChanged returns the event stream of account updates. An empty
	// slice means the wallet disconnected. The channel is closed when the
	// provider shuts down.
	AccountsChanged() <-chan []string
}
