package keysource

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"
)

// Source lazily resolves a hex-encoded secp256k1 private key from an
// environment variable or by prompting on the terminal. The key is cached
// after the first successful retrieval.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	prompt func() (string, error)

	once sync.Once
	key  *ecdsa.PrivateKey
	err  error
}

// NewSource returns a Source that checks envVar before prompting.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		prompt: promptTerminal,
	}
}

// Key returns the cached key or resolves it on first use.
func (s *Source) Key() (*ecdsa.PrivateKey, error) {
	s.once.Do(func() {
		raw, err := s.read()
		if err != nil {
			s.err = err
			return
		}
		s.key, s.err = Parse(raw)
	})
	return s.key, s.err
}

func (s *Source) read() (string, error) {
	if s.envVar != "" {
		if value, ok := s.lookup(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}
	value, err := s.prompt()
	if err != nil {
		if s.envVar != "" {
			return "", fmt.Errorf("signer key required; set %s or run interactively: %w", s.envVar, err)
		}
		return "", err
	}
	return value, nil
}

// Parse decodes a hex private key with or without a 0x prefix.
func Parse(raw string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, errors.New("signer key cannot be empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	return key, nil
}

func promptTerminal() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no terminal available")
	}
	return promptFrom(os.Stderr, func() ([]byte, error) { return term.ReadPassword(int(os.Stdin.Fd())) })
}

func promptFrom(w io.Writer, read func() ([]byte, error)) (string, error) {
	fmt.Fprint(w, "Enter signer private key (hex): ")
	value, err := read()
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("read signer key: %w", err)
	}
	return string(value), nil
}
