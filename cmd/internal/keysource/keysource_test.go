package keysource

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newTestSource(env map[string]string, prompt func() (string, error)) *Source {
	return &Source{
		envVar: "LAUNCHPAD_SIGNER_KEY",
		lookup: func(name string) (string, bool) {
			value, ok := env[name]
			return value, ok
		},
		prompt: prompt,
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	prompted := false
	src := newTestSource(map[string]string{"LAUNCHPAD_SIGNER_KEY": "0x" + testKeyHex}, func() (string, error) {
		prompted = true
		return "", nil
	})
	key, err := src.Key()
	require.NoError(t, err)
	require.False(t, prompted)

	want, err := crypto.HexToECDSA(testKeyHex)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(want.PublicKey), crypto.PubkeyToAddress(key.PublicKey))
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	src := newTestSource(map[string]string{"LAUNCHPAD_SIGNER_KEY": "  "}, func() (string, error) {
		t.Fatalf("prompt should not run when the variable is set")
		return "", nil
	})
	_, err := src.Key()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourceFallsBackToPromptAndCaches(t *testing.T) {
	calls := 0
	src := newTestSource(nil, func() (string, error) {
		calls++
		return testKeyHex, nil
	})
	first, err := src.Key()
	require.NoError(t, err)
	second, err := src.Key()
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestSourcePromptFailure(t *testing.T) {
	src := newTestSource(nil, func() (string, error) { return "", errors.New("no terminal available") })
	_, err := src.Key()
	require.ErrorContains(t, err, "LAUNCHPAD_SIGNER_KEY")
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "0x", "zz", "abcd"} {
		if _, err := Parse(raw); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

func TestPromptWritesToWriter(t *testing.T) {
	var out bytes.Buffer
	value, err := promptFrom(&out, func() ([]byte, error) { return []byte(testKeyHex), nil })
	require.NoError(t, err)
	require.Equal(t, testKeyHex, value)
	require.Contains(t, out.String(), "signer private key")
}
