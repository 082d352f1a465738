package messages

import "github.com/google/uuid"

// Token is an opaque suspension handle.
type Token string

// TokenHolder tracks outstanding suspension tokens. Nested Acquire calls
// each need their own Release.
type TokenHolder struct {
	tokens   map[Token]struct{}
	onChange func()
}

// NewTokenHolder calls onChange whenever the holder flips between empty and non-empty.
func NewTokenHolder(onChange func()) *TokenHolder {
	return &TokenHolder{
		tokens:   make(map[Token]struct{}),
		onChange: onChange,
	}
}

func (h *TokenHolder) Acquire() Token {
	t := Token(uuid.NewString())
	h.tokens[t] = struct{}{}
	if len(h.tokens) == 1 && h.onChange != nil {
		h.onChange()
	}
	return t
}

// Release returns false for unknown or already released tokens.
func (h *TokenHolder) Release(t Token) bool {
	if _, ok := h.tokens[t]; !ok {
		return false
	}
	delete(h.tokens, t)
	if len(h.tokens) == 0 && h.onChange != nil {
		h.onChange()
	}
	return true
}

func (h *TokenHolder) HasTokens() bool { return len(h.tokens) > 0 }

func (h *TokenHolder) Len() int { return len(h.tokens) }
