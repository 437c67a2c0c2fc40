package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("JOBS_RPC_TOKEN"))
	outputFormat = "json"
	rpcCall      = callRPC
	httpClient   = &http.Client{Timeout: 30 * time.Second}
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "token":
		return runToken(rest, stdout, stderr)
	case "post":
		return runPost(rest, stdout, stderr)
	case "assign":
		return runAssign(rest, stdout, stderr)
	case "accept", "fund", "complete", "cancel", "expire", "get", "quote":
		return runByID(cmd, rest, stdout, stderr)
	case "update":
		return runUpdate(rest, stdout, stderr)
	case "create-funded":
		return runCreateFunded(rest, stdout, stderr)
	case "list":
		return runList(rest, stdout, stderr)
	case "balance":
		return runBalance(rest, stdout, stderr)
	case "deposit":
		return runDeposit(rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080/rpc"
}

// applyGlobalFlags strips --rpc, --auth and --output from anywhere in args.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var name, value string
		matched := false
		for _, flagName := range []string{"--rpc", "--auth", "--output"} {
			if arg == flagName {
				if i+1 >= len(args) {
					return nil, fmt.Errorf("missing value for %s", flagName)
				}
				name, value, matched = flagName, args[i+1], true
				i++
				break
			}
			if strings.HasPrefix(arg, flagName+"=") {
				name, value, matched = flagName, strings.TrimPrefix(arg, flagName+"="), true
				break
			}
		}
		if !matched {
			out = append(out, arg)
			continue
		}
		switch name {
		case "--rpc":
			rpcEndpoint = value
		case "--auth":
			rpcAuthToken = strings.TrimSpace(value)
		case "--output":
			format := strings.ToLower(strings.TrimSpace(value))
			if format != "json" && format != "yaml" {
				return nil, fmt.Errorf("--output must be json or yaml")
			}
			outputFormat = format
		}
	}
	return out, nil
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		if rpcAuthToken == "" {
			return nil, nil, fmt.Errorf("%s requires a bearer token (--auth or JOBS_RPC_TOKEN)", method)
		}
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

// invoke performs the call and prints the result or the error.
func invoke(method string, params interface{}, requireAuth bool, stdout, stderr io.Writer) int {
	result, rpcErr, err := rpcCall(method, params, requireAuth)
	if err != nil {
		fmt.Fprintf(stderr, "RPC call failed: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 && string(rpcErr.Data) != "null" {
			fmt.Fprintf(stderr, "  %s\n", string(rpcErr.Data))
		}
		return 1
	}
	if err := writeResult(stdout, result); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func writeResult(w io.Writer, result json.RawMessage) error {
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	if outputFormat == "yaml" {
		decoder := json.NewDecoder(bytes.NewReader(result))
		decoder.UseNumber()
		var value interface{}
		if err := decoder.Decode(&value); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		encoded, err := yaml.Marshal(yamlValue(value))
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(encoded)
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(result)
	}
	pretty.WriteByte('\n')
	_, err := w.Write(pretty.Bytes())
	return err
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}

func usage() string {
	return strings.TrimSpace(`Usage:
  job-cli [--rpc URL] [--auth JWT] [--output json|yaml] <command> [flags]

Keys and tokens:
  keygen         Generate an encrypted keystore and print its account
  token          Sign a bearer token with the daemon's HMAC secret

Jobs:
  post           Post an open job
  assign         Assign a freelancer and propose terms
  accept         Accept the assigned terms (freelancer)
  update         Change the terms of an open job
  fund           Move the job amount into custody
  create-funded  Create a funded job directly with a freelancer
  complete       Settle a funded job
  cancel         Withdraw a job, refunding any custody
  expire         Fail a job after its hard deadline
  get            Show a job
  quote          Preview the settlement at the current ledger time
  list           List jobs by account

Bank:
  balance        Show an account balance
  deposit        Credit an account (admin scope)
`)
}

// yamlValue turns json.Number values that fit a machine integer into real
// integers so yaml renders them unquoted. Anything wider stays a string.
func yamlValue(value interface{}) interface{} {
	switch v := value.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return n
		}
		return v.String()
	case map[string]interface{}:
		for key, item := range v {
			v[key] = yamlValue(item)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = yamlValue(item)
		}
		return v
	default:
		return value
	}
}
