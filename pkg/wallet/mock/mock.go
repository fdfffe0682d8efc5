// Package mock provides a scripted wallet.Provider for tests.
package mock

import (
	"context"
	"math/big"
	"sync"

	"github.com/aurahq/aura/pkg/wallet"
)

var _ wallet.Provider = (*Provider)(nil)

// Transfer records one SendValueTransfer call.
type Transfer struct {
	To        string
	AmountWei *big.Int
}

// Provider is a mock wallet. The zero value has one account "0xmock" on
// chain "0x1" and accepts everything.
type Provider struct {
	mu sync.Mutex

	// Accounts is returned by RequestAccounts. Empty means the default
	// single account.
	Accounts []string

	// Chain is the currently selected chain id. Empty means "0x1".
	Chain string

	// KnownChains lists chain ids SwitchChain accepts. Nil means every
	// chain is known. AddChain appends to this list.
	KnownChains []string

	// RequestErr, SwitchErr, SendErr and ConfirmErr are injected failures
	// for the corresponding calls.
	RequestErr error
	SwitchErr  error
	SendErr    error
	ConfirmErr error

	// Transfers records every SendValueTransfer call.
	Transfers []Transfer

	// AddedChains records every AddChain call.
	AddedChains []wallet.ChainDescriptor

	accounts chan []string
}

// RequestAccounts implements wallet.Provider.
func (p *Provider) RequestAccounts(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RequestErr != nil {
		return nil, p.RequestErr
	}
	if len(p.Accounts) == 0 {
		return []string{"0xmock"}, nil
	}
	return append([]string(nil), p.Accounts...), nil
}

// ChainID implements wallet.Provider.
func (p *Provider) ChainID(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Chain == "" {
		return "0x1", nil
	}
	return p.Chain, nil
}

// SwitchChain implements wallet.Provider.
func (p *Provider) SwitchChain(_ context.Context, chainID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SwitchErr != nil {
		return p.SwitchErr
	}
	if p.KnownChains != nil && !contains(p.KnownChains, chainID) {
		return wallet.ErrUnknownChain
	}
	p.Chain = chainID
	return nil
}

// AddChain implements wallet.Provider.
func (p *Provider) AddChain(_ context.Context, chain wallet.ChainDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AddedChains = append(p.AddedChains, chain)
	if p.KnownChains != nil {
		p.KnownChains = append(p.KnownChains, chain.ChainID)
	}
	return nil
}

// SendValueTransfer implements wallet.Provider.
func (p *Provider) SendValueTransfer(_ context.Context, to string, amountWei *big.Int) (wallet.TxHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SendErr != nil {
		return "", p.SendErr
	}
	p.Transfers = append(p.Transfers, Transfer{To: to, AmountWei: new(big.Int).Set(amountWei)})
	return wallet.TxHandle("0xtx"), nil
}

// AwaitConfirmation implements wallet.Provider.
func (p *Provider) AwaitConfirmation(context.Context, wallet.TxHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ConfirmErr
}

// AccountsChanged implements wallet.Provider.
func (p *Provider) AccountsChanged() <-chan []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accounts == nil {
		p.accounts = make(chan []string, 4)
	}
	return p.accounts
}

// EmitAccountsChanged delivers an accounts-changed event to the subscriber.
func (p *Provider) EmitAccountsChanged(accounts []string) {
	p.mu.Lock()
	if p.accounts == nil {
		p.accounts = make(chan []string, 4)
	}
	ch := p.accounts
	p.mu.Unlock()
	ch <- accounts
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
