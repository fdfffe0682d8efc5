// Package payment orchestrates one subscription purchase: resolve any chain
// mismatch, submit the native-currency transfer, wait for confirmation, then
// record the subscription in the access ledger. Access is only ever granted
// after the chain confirms the transfer.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/aurahq/aura/internal/access"
	"github.com/aurahq/aura/pkg/wallet"
)

var (
	// ErrChainDeclined indicates the user refused to switch to the payment
	// chain. Terminal for this attempt.
	ErrChainDeclined = errors.New("payment: chain switch declined")

	// ErrTransferFailed indicates the transfer was rejected or never
	// confirmed. The access tier is left unchanged.
	ErrTransferFailed = errors.New("payment: transfer failed")
)

// Polygon Amoy, the reference payment chain.
var DefaultChain = wallet.ChainDescriptor{
	ChainID:          "0x13882",
	Name:             "Polygon Amoy Testnet",
	RPCURLs:          []string{"https://rpc-amoy.polygon.technology"},
	CurrencyName:     "MATIC",
	CurrencySymbol:   "MATIC",
	CurrencyDecimals: 18,
	BlockExplorerURLs: []string{
		"https://amoy.polygonscan.com",
	},
}

// DefaultAmountWei is the subscription price, 0.01 in 18-decimal native
// units.
var DefaultAmountWei = new(big.Int).SetUint64(10_000_000_000_000_000)

// Receipt is the successful outcome of one purchase.
type Receipt struct {
	Tx        wallet.TxHandle
	Address   string
	PaidAt    time.Time
	NewRecord access.Record
}

// Processor executes purchases against one chain and one treasury address.
type Processor struct {
	provider  wallet.Provider
	ledger    *access.Ledger
	chain     wallet.ChainDescriptor
	treasury  string
	amountWei *big.Int
	now       func() time.Time
}

// Config holds the collaborators and terms of a [Processor].
type Config struct {
	Provider wallet.Provider
	Ledger   *access.Ledger

	// Treasury is the address that receives subscription payments.
	Treasury string

	// Chain is the required payment chain. Zero value means DefaultChain.
	Chain wallet.ChainDescriptor

	// AmountWei is the price. Nil means DefaultAmountWei.
	AmountWei *big.Int

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// New constructs a processor. Treasury must be set.
func New(cfg Config) (*Processor, error) {
	if cfg.Treasury == "" {
		return nil, errors.New("payment: treasury address must not be empty")
	}
	p := &Processor{
		provider:  cfg.Provider,
		ledger:    cfg.Ledger,
		chain:     cfg.Chain,
		treasury:  cfg.Treasury,
		amountWei: cfg.AmountWei,
		now:       cfg.Now,
	}
	if p.chain.ChainID == "" {
		p.chain = DefaultChain
	}
	if p.amountWei == nil {
		p.amountWei = DefaultAmountWei
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Purchase runs the full payment flow for address. On success the access
// ledger holds a fresh subscription and the receipt carries the new record.
// On any failure the ledger is untouched.
func (p *Processor) Purchase(ctx context.Context, address string) (Receipt, error) {
	address = access.NormalizeAddress(address)

	if err := p.ensureChain(ctx); err != nil {
		return Receipt{}, err
	}

	tx, err := p.provider.SendValueTransfer(ctx, p.treasury, p.amountWei)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	slog.Info("payment submitted", "address", address, "tx", tx)

	if err := p.provider.AwaitConfirmation(ctx, tx); err != nil {
		return Receipt{}, fmt.Errorf("%w: confirmation: %v", ErrTransferFailed, err)
	}

	now := p.now()
	rec, err := p.ledger.RecordPayment(address, now)
	if err != nil {
		// The chain accepted the money but the ledger write failed. This
		// must be loud: the user paid and holds no subscription record.
		slog.Error("payment confirmed but ledger update failed",
			"address", address, "tx", tx, "err", err)
		return Receipt{}, fmt.Errorf("payment: record subscription: %w", err)
	}

	slog.Info("subscription recorded",
		"address", address, "tx", tx, "expires", rec.SubscriptionExpiresAt)
	return Receipt{Tx: tx, Address: address, PaidAt: now, NewRecord: rec}, nil
}

// ensureChain makes the wallet's selected chain match the payment chain,
// adding it first when the wallet has never seen it. A user rejection at any
// step ends the attempt.
func (p *Processor) ensureChain(ctx context.Context) error {
	current, err := p.provider.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("payment: read chain id: %w", err)
	}
	if current == p.chain.ChainID {
		return nil
	}

	err = p.provider.SwitchChain(ctx, p.chain.ChainID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, wallet.ErrUserRejected):
		return fmt.Errorf("%w: %v", ErrChainDeclined, err)
	case errors.Is(err, wallet.ErrUnknownChain):
		// Fall through to add the chain.
	default:
		return fmt.Errorf("payment: switch chain: %w", err)
	}

	if err := p.provider.AddChain(ctx, p.chain); err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return fmt.Errorf("%w: %v", ErrChainDeclined, err)
		}
		return fmt.Errorf("payment: add chain: %w", err)
	}
	if err := p.provider.SwitchChain(ctx, p.chain.ChainID); err != nil {
		if errors.Is(err, wallet.ErrUserRejected) {
			return fmt.Errorf("%w: %v", ErrChainDeclined, err)
		}
		return fmt.Errorf("payment: switch chain after add: %w", err)
	}
	return nil
}
