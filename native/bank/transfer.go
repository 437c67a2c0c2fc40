package bank

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"jobescrow/core/events"
	"jobescrow/core/state"
)

var (
	// ErrInsufficientBalance is returned when the sender cannot cover a transfer.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrUnknownToken is returned for transfers in an unregistered token.
	ErrUnknownToken = errors.New("bank: unknown token")
)

// CustodyAddress derives the account that holds escrowed funds for token. It
// is the last 20 bytes of keccak256("jobs/custody/" + TOKEN); nobody holds a
// key for it.
func CustodyAddress(token string) ([20]byte, error) {
	var addr [20]byte
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return addr, fmt.Errorf("bank: token symbol required")
	}
	hash := ethcrypto.Keccak256([]byte("jobs/custody/" + normalized))
	copy(addr[:], hash[len(hash)-20:])
	return addr, nil
}

// Ledger moves token balances held in state. It is bound to the same unit
// of work as the caller, so a discarded unit rolls back every transfer it
// made.
type Ledger struct {
	manager *state.Manager
	emitter events.Emitter
}

// NewLedger constructs a ledger over the supplied state manager. A nil
// emitter discards transfer events.
func NewLedger(manager *state.Manager, emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Ledger{manager: manager, emitter: emitter}
}

// CustodyAddress implements the jobs transfer primitive.
func (l *Ledger) CustodyAddress(token string) ([20]byte, error) {
	return CustodyAddress(token)
}

// Transfer debits from and credits to atomically within the unit of work.
func (l *Ledger) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.manager == nil {
		return fmt.Errorf("bank: state manager required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: transfer amount must be positive")
	}
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if err := l.requireToken(symbol); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	fromBal, err := l.manager.Balance(from[:], symbol)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBal, amount)
	}
	toBal, err := l.manager.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := l.manager.SetBalance(from[:], symbol, new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := l.manager.SetBalance(to[:], symbol, new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Token: symbol, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (l *Ledger) requireToken(symbol string) error {
	ok, err := l.manager.TokenExists(symbol)
	if err != nil {
		return fmt.Errorf("bank: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return nil
}

// Mint credits an account out of thin air. It backs genesis allocations and the
// operator deposit endpoint. The emitted transfer has a zero sender.
func (l *Ledger) Mint(to [20]byte, token string, amount *big.Int) error {
	if l == nil || l.manager == nil {
		return fmt.Errorf("bank: state manager required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: mint amount must be positive")
	}
	symbol := strings.ToUpper(strings.TrimSpace(token))
	if err := l.requireToken(symbol); err != nil {
		return err
	}
	bal, err := l.manager.Balance(to[:], symbol)
	if err != nil {
		return err
	}
	if err := l.manager.SetBalance(to[:], symbol, new(big.Int).Add(bal, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{Token: symbol, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}
