package genesis

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"jobescrow/core/state"
)

var appliedKey = []byte("genesis/applied")

// Minter credits balances during genesis. bank.Ledger satisfies it.
type Minter interface {
	Mint(to [20]byte, token string, amount *big.Int) error
}

// Apply registers the declared tokens and credits the allocations. It runs at
// most once per ledger; later calls report applied=false and change nothing.
func Apply(spec *Spec, manager *state.Manager, minter Minter) (applied bool, err error) {
	if manager == nil || minter == nil {
		return false, fmt.Errorf("genesis: state manager and minter required")
	}
	var done bool
	if _, err := manager.KVGet(appliedKey, &done); err != nil {
		return false, err
	}
	if done {
		return false, nil
	}
	allocs, err := spec.Validate()
	if err != nil {
		return false, err
	}

	var tokens []TokenSpec
	if spec != nil {
		tokens = append(tokens, spec.Tokens...)
	}
	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToUpper(tokens[i].Symbol) < strings.ToUpper(tokens[j].Symbol)
	})
	for _, token := range tokens {
		exists, err := manager.TokenExists(token.Symbol)
		if err != nil {
			return false, fmt.Errorf("genesis token %s: %w", token.Symbol, err)
		}
		if exists {
			continue
		}
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return false, fmt.Errorf("genesis token %s: %w", token.Symbol, err)
		}
	}
	for _, alloc := range allocs {
		if err := minter.Mint(alloc.Account, alloc.Token, alloc.Amount); err != nil {
			return false, fmt.Errorf("genesis balance %s: %w", alloc.Token, err)
		}
	}
	if err := manager.KVPut(appliedKey, true); err != nil {
		return false, err
	}
	return true, nil
}
