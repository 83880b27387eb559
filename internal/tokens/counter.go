// Package tokens estimates how many model tokens a piece of text costs.
package tokens

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidText is returned for input that is not valid UTF-8.
var ErrInvalidText = errors.New("text is not valid utf-8")

// Counter counts tokens for a model. Implementations must be safe for concurrent use.
type Counter interface {
	Count(text, model string) (int, error)
}

// Heuristic approximates BPE tokenizers at roughly four characters per token.
// The model name is accepted for interface compatibility and ignored.
type Heuristic struct {
	RunesPerToken int
}

func NewHeuristic() Heuristic { return Heuristic{RunesPerToken: 4} }

func (h Heuristic) Count(text, _ string) (int, error) {
	if text == "" {
		return 0, nil
	}
	if !utf8.ValidString(text) {
		return 0, ErrInvalidText
	}
	per := h.RunesPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per, nil
}

var _ Counter = Heuristic{}
