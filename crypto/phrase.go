package crypto

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// PhraseSource lazily resolves the custodial recovery phrase from an
// environment variable or by prompting the operator. The value is cached after
// the first successful retrieval.
type PhraseSource struct {
	envVar    string
	lookupEnv func(string) (string, bool)
	prompt    func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewPhraseSource constructs a source that checks envVar before interactively
// prompting on the terminal.
func NewPhraseSource(envVar string) *PhraseSource {
	return &PhraseSource{
		envVar:    strings.TrimSpace(envVar),
		lookupEnv: os.LookupEnv,
		prompt:    promptTerminal,
	}
}

// Get returns the cached phrase or resolves it if this is the first call.
func (s *PhraseSource) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookupEnv(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		phrase, err := s.prompt()
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("custodial recovery phrase required; set %s or run interactively: %w", s.envVar, err)
			} else {
				s.err = err
			}
			return
		}
		if strings.TrimSpace(phrase) == "" {
			s.err = errors.New("custodial recovery phrase cannot be empty")
			return
		}
		s.value = phrase
	})
	return s.value, s.err
}

func promptTerminal() (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("no terminal available")
	}
	fmt.Fprint(os.Stderr, "Enter custodial recovery phrase: ")
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read recovery phrase: %w", err)
	}
	return string(bytes), nil
}
