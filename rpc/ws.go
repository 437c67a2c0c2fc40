package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"jobescrow/core/types"
	"jobescrow/crypto"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

type eventFilter struct {
	account string
	prefix  string
}

func (f eventFilter) match(evt *types.Event) bool {
	if evt == nil {
		return false
	}
	if f.prefix != "" && !strings.HasPrefix(evt.Type, f.prefix) {
		return false
	}
	if f.account != "" {
		attrs := evt.Attributes
		if attrs["client"] != f.account && attrs["freelancer"] != f.account &&
			attrs["from"] != f.account && attrs["to"] != f.account {
			return false
		}
	}
	return true
}

// handleJobsWS streams committed events. Optional query parameters:
// account (bech32) and type (event type prefix, default "jobs.").
func (s *Server) handleJobsWS(w http.ResponseWriter, r *http.Request) {
	filter := eventFilter{prefix: "jobs."}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("account")); raw != "" {
		account, err := crypto.ParseAccount(raw)
		if err != nil {
			http.Error(w, "invalid account", http.StatusBadRequest)
			return
		}
		filter.account = crypto.FromRaw(account).String()
	}
	if query.Has("type") {
		filter.prefix = strings.TrimSpace(query.Get("type"))
	}

	// Subscribe before the handshake completes so a client that acts right
	// after dialing still sees its own events.
	events, cancel := s.node.Subscribe(wsBuffer)
	defer cancel()
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := streamEvents(ctx, conn, events, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamEvents(ctx context.Context, conn *websocket.Conn, events <-chan *types.Event, filter eventFilter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if !filter.match(evt) {
				continue
			}
			if err := writeEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt *types.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
