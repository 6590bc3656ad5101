package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownHaltPolicy = errors.New("dispatch: unknown halt policy")

// HaltPolicy decides what happens once any sub-command has failed.
type HaltPolicy uint8

const (
	// HaltNever keeps dispatching and continuing after failures.
	HaltNever HaltPolicy = iota
	// HaltLazy stops dispatching new lines; running lines finish.
	HaltLazy
	// HaltEager also stops running lines before their next sub-command.
	HaltEager
)

func ParseHaltPolicy(s string) (HaltPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never":
		return HaltNever, nil
	case "lazy":
		return HaltLazy, nil
	case "eager":
		return HaltEager, nil
	default:
		return HaltNever, fmt.Errorf("%w: %q (want never, lazy or eager)", ErrUnknownHaltPolicy, s)
	}
}

func (p HaltPolicy) String() string {
	switch p {
	case HaltLazy:
		return "lazy"
	case HaltEager:
		return "eager"
	default:
		return "never"
	}
}

// AllowDispatch reports whether an idle slot may take a new line.
func (p HaltPolicy) AllowDispatch(failed bool) bool {
	return p == HaltNever || !failed
}

// AllowContinue reports whether a running line may start its next
// sub-command.
func (p HaltPolicy) AllowContinue(failed bool) bool {
	return p != HaltEager || !failed
}

// Set and Type let a HaltPolicy back a command line flag.
func (p *HaltPolicy) Set(s string) error {
	v, err := ParseHaltPolicy(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p *HaltPolicy) Type() string { return "policy" }
