package events

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/crypto"
)

func TestCollectorDrainsInOrder(t *testing.T) {
	c := &Collector{}
	c.Emit(Transfer{Token: "usdc", From: [20]byte{1}, To: [20]byte{2}, Amount: big.NewInt(5)})
	c.Emit(nil)
	c.Emit(Transfer{Token: "USDC", To: [20]byte{3}})

	drained := c.Drain()
	require.Len(t, drained, 2)
	require.Empty(t, c.Drain())

	first := drained[0].(Payload).Event()
	require.Equal(t, TypeTransfer, first.Type)
	require.Equal(t, "USDC", first.Attributes["token"])
	require.Equal(t, "5", first.Attributes["amount"])
	require.Equal(t, crypto.FromRaw([20]byte{2}).String(), first.Attributes["to"])
	require.Equal(t, "0", drained[1].(Payload).Event().Attributes["amount"])

	var nilCollector *Collector
	nilCollector.Emit(Transfer{})
	require.Nil(t, nilCollector.Drain())
}
