package events

import (
	"math/big"
	"strings"

	"jobescrow/core/types"
	"jobescrow/crypto"
)

const (
	// TypeTransfer is emitted for every token movement performed by the bank.
	TypeTransfer = "transfer.token"
)

type Transfer struct {
	Token  string
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{}
	if token := strings.ToUpper(strings.TrimSpace(e.Token)); token != "" {
		attrs["token"] = token
	}
	attrs["from"] = crypto.FromRaw(e.From).String()
	attrs["to"] = crypto.FromRaw(e.To).String()
	attrs["amount"] = formatAmount(e.Amount)
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
