package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobescrow/core"
	"jobescrow/crypto"
	"jobescrow/storage"
)

const testSecret = "rpc-test-secret-0123456789abcdef"

var (
	testClient     = [20]byte{0x11}
	testFreelancer = [20]byte{0x22}
	testOperator   = [20]byte{0x33}
)

type testEnv struct {
	db     *storage.MemDB
	node   *core.Node
	server *Server
	http   *httptest.Server
	now    *time.Time
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	node, err := core.NewNode(db)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	now := time.Unix(50, 0)
	node.Clock().SetNowFunc(func() time.Time { return now })
	ctx := context.Background()
	if err := node.RegisterToken(ctx, "USDC", "USD Coin", 6); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := node.Deposit(ctx, testClient, "USDC", big.NewInt(10_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if cfg.Auth.HMACSecret == "" {
		cfg.Auth = AuthConfig{HMACSecret: testSecret, Issuer: "rpc-tests", Audience: "unit-tests"}
	}
	srv, err := NewServer(node, cfg, nil)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{db: db, node: node, server: srv, http: ts, now: &now}
}

func (e *testEnv) token(t *testing.T, account [20]byte, scopes ...string) string {
	t.Helper()
	token, err := e.server.Authenticator().Issue(account, scopes, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

type rpcResult struct {
	status int
	header http.Header
	result json.RawMessage
	err    *RPCError
}

func (e *testEnv) call(t *testing.T, token, method string, params interface{}) rpcResult {
	t.Helper()
	payload := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/rpc", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rpcResult{status: resp.StatusCode, header: resp.Header, result: decoded.Result, err: decoded.Error}
}

func (r rpcResult) into(t *testing.T, dst interface{}) {
	t.Helper()
	if r.err != nil {
		t.Fatalf("unexpected rpc error %d: %s (%v)", r.err.Code, r.err.Message, r.err.Data)
	}
	if err := json.Unmarshal(r.result, dst); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func expectCode(t *testing.T, r rpcResult, code int) {
	t.Helper()
	if r.err == nil {
		t.Fatalf("expected error code %d, got result %s", code, string(r.result))
	}
	if r.err.Code != code {
		t.Fatalf("expected error code %d, got %d (%s, %v)", code, r.err.Code, r.err.Message, r.err.Data)
	}
}

func bech32(account [20]byte) string { return crypto.FromRaw(account).String() }

func testTerms(amount string, soft, hard uint64, penalty string) termsParams {
	return termsParams{Amount: amount, SoftDeadline: soft, HardDeadline: hard, PenaltyPerSec: penalty}
}
