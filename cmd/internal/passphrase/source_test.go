package passphrase

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func stubTerminal(t *testing.T, env map[string]string, terminal bool, typed string, readErr error) *int {
	t.Helper()
	reads := 0
	origTerminal, origRead, origLookup := isTerminal, readPassword, lookupEnv
	isTerminal = func(int) bool { return terminal }
	readPassword = func(int) ([]byte, error) {
		reads++
		return []byte(typed), readErr
	}
	lookupEnv = func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
	t.Cleanup(func() {
		isTerminal, readPassword, lookupEnv = origTerminal, origRead, origLookup
	})
	return &reads
}

func TestSourcePrefersEnvironment(t *testing.T) {
	reads := stubTerminal(t, map[string]string{"JOBS_KEY_PASS": "hunter2"}, true, "typed", nil)
	value, err := NewSource("JOBS_KEY_PASS", &bytes.Buffer{}).Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
	require.Zero(t, *reads)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	stubTerminal(t, map[string]string{"JOBS_KEY_PASS": "  "}, true, "typed", nil)
	_, err := NewSource("JOBS_KEY_PASS", &bytes.Buffer{}).Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsOnTerminal(t *testing.T) {
	reads := stubTerminal(t, nil, true, "typed secret", nil)
	var prompt bytes.Buffer
	src := NewSource("JOBS_KEY_PASS", &prompt)
	value, err := src.Get()
	require.NoError(t, err)
	require.Equal(t, "typed secret", value)
	require.Contains(t, prompt.String(), "Enter keystore passphrase")

	value, err = src.Get()
	require.NoError(t, err)
	require.Equal(t, "typed secret", value)
	require.Equal(t, 1, *reads)
}

func TestSourceFailsWithoutTerminal(t *testing.T) {
	stubTerminal(t, nil, false, "", nil)
	_, err := NewSource("JOBS_KEY_PASS", &bytes.Buffer{}).Get()
	require.ErrorContains(t, err, "set JOBS_KEY_PASS")
}

func TestSourceRejectsEmptyPromptAndReadErrors(t *testing.T) {
	stubTerminal(t, nil, true, "   ", nil)
	_, err := NewSource("", &bytes.Buffer{}).Get()
	require.ErrorContains(t, err, "cannot be empty")

	boom := errors.New("tty closed")
	stubTerminal(t, nil, true, "", boom)
	_, err = NewSource("", &bytes.Buffer{}).Get()
	require.ErrorIs(t, err, boom)
}
