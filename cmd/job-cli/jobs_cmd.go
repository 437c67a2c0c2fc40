package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"jobescrow/crypto"
)

type termsFlags struct {
	amount  string
	soft    uint64
	hard    uint64
	penalty string
}

func (t *termsFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&t.amount, "amount", "", "job amount in base units")
	fs.Uint64Var(&t.soft, "soft", 0, "soft deadline (ledger seconds)")
	fs.Uint64Var(&t.hard, "hard", 0, "hard deadline (ledger seconds)")
	fs.StringVar(&t.penalty, "penalty", "0", "penalty per second late in base units")
}

func (t *termsFlags) apply(params map[string]interface{}) error {
	amount, err := normalizeAmount("--amount", t.amount)
	if err != nil {
		return err
	}
	penalty, err := normalizeAmount("--penalty", t.penalty)
	if err != nil {
		return err
	}
	if t.hard <= t.soft {
		return fmt.Errorf("--hard must be after --soft")
	}
	params["amount"] = amount
	params["softDeadline"] = t.soft
	params["hardDeadline"] = t.hard
	params["penaltyPerSec"] = penalty
	return nil
}

// normalizeAmount accepts base-10 integers with optional _ separators.
func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("%s is required", flagName)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return "", fmt.Errorf("%s must be a base-10 integer", flagName)
	}
	if amount.Sign() < 0 {
		return "", fmt.Errorf("%s must not be negative", flagName)
	}
	return amount.String(), nil
}

func validateAccount(flagName, value string, required bool) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if required {
			return "", fmt.Errorf("%s is required", flagName)
		}
		return "", nil
	}
	if _, err := crypto.ParseAccount(trimmed); err != nil {
		return "", fmt.Errorf("%s: %v", flagName, err)
	}
	return trimmed, nil
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, stderr io.Writer) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return false
	}
	return true
}

func runPost(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("post", stderr)
	var terms termsFlags
	var client, token string
	fs.StringVar(&client, "client", "", "client account (defaults to the bearer token subject)")
	fs.StringVar(&token, "token", "", "token symbol")
	terms.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{}
	client, err := validateAccount("--client", client, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if client != "" {
		params["client"] = client
	}
	if strings.TrimSpace(token) == "" {
		return printError(stderr, "--token is required")
	}
	params["token"] = strings.ToUpper(strings.TrimSpace(token))
	if err := terms.apply(params); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("jobs_post", params, true, stdout, stderr)
}

func runAssign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("assign", stderr)
	var terms termsFlags
	var id uint64
	var freelancer string
	fs.Uint64Var(&id, "id", 0, "job id")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer account")
	terms.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if id == 0 {
		return printError(stderr, "--id is required")
	}
	freelancer, err := validateAccount("--freelancer", freelancer, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{"id": id, "freelancer": freelancer}
	if err := terms.apply(params); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("jobs_assign", params, true, stdout, stderr)
}

func runUpdate(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("update", stderr)
	var terms termsFlags
	var id uint64
	fs.Uint64Var(&id, "id", 0, "job id")
	terms.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if id == 0 {
		return printError(stderr, "--id is required")
	}
	params := map[string]interface{}{"id": id}
	if err := terms.apply(params); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("jobs_update", params, true, stdout, stderr)
}

func runCreateFunded(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create-funded", stderr)
	var terms termsFlags
	var client, freelancer, token string
	fs.StringVar(&client, "client", "", "client account (defaults to the bearer token subject)")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer account")
	fs.StringVar(&token, "token", "", "token symbol")
	terms.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]interface{}{}
	client, err := validateAccount("--client", client, false)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if client != "" {
		params["client"] = client
	}
	freelancer, err = validateAccount("--freelancer", freelancer, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params["freelancer"] = freelancer
	if strings.TrimSpace(token) == "" {
		return printError(stderr, "--token is required")
	}
	params["token"] = strings.ToUpper(strings.TrimSpace(token))
	if err := terms.apply(params); err != nil {
		return printError(stderr, err.Error())
	}
	return invoke("jobs_createFunded", params, true, stdout, stderr)
}

var idMethods = map[string]struct {
	method string
	signed bool
}{
	"accept":   {"jobs_accept", true},
	"fund":     {"jobs_fund", true},
	"complete": {"jobs_complete", true},
	"cancel":   {"jobs_cancel", true},
	"expire":   {"jobs_expire", true},
	"get":      {"jobs_get", false},
	"quote":    {"jobs_quote", false},
}

func runByID(cmd string, args []string, stdout, stderr io.Writer) int {
	target, ok := idMethods[cmd]
	if !ok {
		return printError(stderr, fmt.Sprintf("unknown command %s", cmd))
	}
	fs := newFlagSet(cmd, stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "job id")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if id == 0 {
		return printError(stderr, "--id is required")
	}
	return invoke(target.method, map[string]interface{}{"id": id}, target.signed, stdout, stderr)
}

func runList(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("list", stderr)
	var account, state string
	var limit int
	fs.StringVar(&account, "account", "", "client or freelancer account")
	fs.StringVar(&state, "state", "", "filter by state (open, assigned, accepted, funded, completed, failed, cancelled)")
	fs.IntVar(&limit, "limit", 0, "maximum number of jobs")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	account, err := validateAccount("--account", account, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	params := map[string]interface{}{"account": account}
	if state = strings.TrimSpace(state); state != "" {
		params["state"] = state
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return invoke("jobs_list", params, false, stdout, stderr)
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("balance", stderr)
	var account, token string
	fs.StringVar(&account, "account", "", "account")
	fs.StringVar(&token, "token", "", "token symbol")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	account, err := validateAccount("--account", account, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(token) == "" {
		return printError(stderr, "--token is required")
	}
	return invoke("bank_balance", map[string]interface{}{"account": account, "token": strings.ToUpper(strings.TrimSpace(token))}, false, stdout, stderr)
}

func runDeposit(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("deposit", stderr)
	var account, token, amount string
	fs.StringVar(&account, "account", "", "account to credit")
	fs.StringVar(&token, "token", "", "token symbol")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	account, err := validateAccount("--account", account, true)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(token) == "" {
		return printError(stderr, "--token is required")
	}
	normalized, err := normalizeAmount("--amount", amount)
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]interface{}{"account": account, "token": strings.ToUpper(strings.TrimSpace(token)), "amount": normalized}
	return invoke("bank_deposit", params, true, stdout, stderr)
}
