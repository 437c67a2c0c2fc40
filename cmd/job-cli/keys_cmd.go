package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"jobescrow/cmd/internal/passphrase"
	"jobescrow/crypto"
	"jobescrow/rpc"
)

const (
	keyPassEnv    = "JOBS_KEY_PASS"
	authSecretEnv = "JOBD_AUTH_SECRET"
)

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("keygen", stderr)
	var out, passEnv string
	fs.StringVar(&out, "out", "wallet.json", "keystore output path")
	fs.StringVar(&passEnv, "pass-env", keyPassEnv, "environment variable holding the keystore passphrase (prompted when unset)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	pass, err := passphrase.NewSource(passEnv, stderr).Get()
	if err != nil {
		return printError(stderr, err.Error())
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return printError(stderr, err.Error())
	}
	if err := crypto.SaveKeystore(out, key, pass); err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintf(stdout, "Keystore written to %s\nAccount: %s\n", out, key.PubKey().Address().String())
	return 0
}

// runToken signs a bearer token locally; it needs the daemon's HMAC secret.
func runToken(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("token", stderr)
	var account, keystorePath, passEnv, secretEnv, issuer, audience, scopes string
	var ttl time.Duration
	fs.StringVar(&account, "account", "", "subject account")
	fs.StringVar(&keystorePath, "keystore", "", "derive the subject from a keystore instead of --account")
	fs.StringVar(&passEnv, "pass-env", keyPassEnv, "environment variable holding the keystore passphrase (prompted when unset)")
	fs.StringVar(&secretEnv, "secret-env", authSecretEnv, "environment variable holding the HMAC secret")
	fs.StringVar(&issuer, "issuer", "jobd", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.StringVar(&scopes, "scope", "", "comma-separated scopes, e.g. admin")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if !parseFlags(fs, args, stderr) {
		return 1
	}

	var subject [20]byte
	switch {
	case keystorePath != "" && account != "":
		return printError(stderr, "provide only one of --account or --keystore")
	case keystorePath != "":
		pass, err := passphrase.NewSource(passEnv, stderr).Get()
		if err != nil {
			return printError(stderr, err.Error())
		}
		key, err := crypto.LoadKeystore(keystorePath, pass)
		if err != nil {
			return printError(stderr, err.Error())
		}
		subject = key.PubKey().Address().Raw()
	default:
		parsed, err := crypto.ParseAccount(account)
		if err != nil {
			return printError(stderr, fmt.Sprintf("--account: %v", err))
		}
		subject = parsed
	}

	auth, err := rpc.NewAuthenticator(rpc.AuthConfig{
		HMACSecret: os.Getenv(secretEnv),
		Issuer:     issuer,
		Audience:   audience,
	})
	if err != nil {
		return printError(stderr, fmt.Sprintf("%v (set %s)", err, secretEnv))
	}
	var scopeList []string
	for _, scope := range strings.Split(scopes, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			scopeList = append(scopeList, scope)
		}
	}
	token, err := auth.Issue(subject, scopeList, ttl)
	if err != nil {
		return printError(stderr, err.Error())
	}
	fmt.Fprintln(stdout, token)
	return 0
}
