package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"jobescrow/crypto"
	"jobescrow/native/bank"
	"jobescrow/native/jobs"
)

type bankBalanceParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type bankDepositParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type balanceResult struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) balance(account [20]byte, token string) (interface{}, *RPCError) {
	bal, err := s.node.Balance(account, token)
	if err != nil {
		return nil, &RPCError{Code: codeJobInternal, Message: "internal error", Data: err.Error()}
	}
	return balanceResult{Account: crypto.FromRaw(account).String(), Token: token, Balance: bigString(bal)}, nil
}

func (s *Server) handleBankBalance(_ context.Context, _ *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params bankBalanceParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccountParam("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := normalizeToken(params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.balance(account, token)
}

func (s *Server) handleBankDeposit(ctx context.Context, _ *Principal, raw []json.RawMessage) (interface{}, *RPCError) {
	var params bankDepositParams
	if rpcErr := decodeParams(raw, &params); rpcErr != nil {
		return nil, rpcErr
	}
	account, rpcErr := parseAccountParam("account", params.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := normalizeToken(params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount, false)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if amount.Sign() <= 0 {
		return nil, invalidParams("amount must be positive")
	}
	if err := s.node.Deposit(ctx, account, token, amount); err != nil {
		if errors.Is(err, bank.ErrUnknownToken) {
			return nil, invalidParams("%v", err)
		}
		return nil, &RPCError{Code: codeJobInternal, Message: "internal error", Data: err.Error()}
	}
	return s.balance(account, token)
}

func normalizeToken(value string) (string, *RPCError) {
	token, err := jobs.NormalizeToken(value)
	if err != nil {
		return "", invalidParams("token: %v", err)
	}
	return token, nil
}
