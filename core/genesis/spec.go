package genesis

import (
	"fmt"
	"math/big"
	"strings"

	"jobescrow/crypto"
	"jobescrow/native/jobs"
)

// Spec seeds an empty ledger with tokens and starting balances. It is carried
// in the daemon configuration under [genesis].
type Spec struct {
	Tokens   []TokenSpec   `toml:"tokens"`
	Balances []BalanceSpec `toml:"balances"`
}

type TokenSpec struct {
	Symbol   string `toml:"symbol"`
	Name     string `toml:"name"`
	Decimals uint8  `toml:"decimals"`
}

// BalanceSpec credits Amount base units of Token to Account (bech32).
type BalanceSpec struct {
	Account string `toml:"account"`
	Token   string `toml:"token"`
	Amount  string `toml:"amount"`
}

// Allocation is a validated BalanceSpec.
type Allocation struct {
	Account [20]byte
	Token   string
	Amount  *big.Int
}

// Validate checks every entry and returns the parsed allocations in spec
// order.
func (s *Spec) Validate() ([]Allocation, error) {
	if s == nil {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(s.Tokens))
	for i, token := range s.Tokens {
		symbol, err := jobs.NormalizeToken(token.Symbol)
		if err != nil {
			return nil, fmt.Errorf("genesis tokens[%d]: %w", i, err)
		}
		if strings.TrimSpace(token.Name) == "" {
			return nil, fmt.Errorf("genesis tokens[%d]: name required", i)
		}
		if _, dup := seen[symbol]; dup {
			return nil, fmt.Errorf("genesis tokens[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = struct{}{}
	}
	allocs := make([]Allocation, 0, len(s.Balances))
	for i, bal := range s.Balances {
		account, err := crypto.ParseAccount(bal.Account)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d]: %w", i, err)
		}
		symbol, err := jobs.NormalizeToken(bal.Token)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d]: %w", i, err)
		}
		if _, ok := seen[symbol]; !ok {
			return nil, fmt.Errorf("genesis balances[%d]: token %s not declared", i, symbol)
		}
		amount, err := parseAmountString(bal.Amount)
		if err != nil {
			return nil, fmt.Errorf("genesis balances[%d]: %w", i, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		allocs = append(allocs, Allocation{Account: account, Token: symbol, Amount: amount})
	}
	return allocs, nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
