// Package translit renders Devanagari-script text as a best-effort
// Latin-script ("Hinglish") approximation.
package translit

import (
	"strings"
	"unicode"

	anyascii "github.com/anyascii/go"
	"go.uber.org/zap"
)

// Transliterator maps Hindi text to a Latin-script phonetic rendering.
// A nil Transliterator is valid and leaves text unchanged, which is the
// fallback when the capability is disabled.
type Transliterator struct {
	Logger *zap.Logger
}

func New(logger *zap.Logger) *Transliterator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transliterator{Logger: logger}
}

// Romanize converts text to a Latin-script rendering. Text without any
// Devanagari codepoints passes through untouched, and a romanization
// that comes back empty falls back to the input: a bad segment must
// never abort the surrounding request.
func (t *Transliterator) Romanize(text string) string {
	if t == nil {
		return text
	}
	if !containsDevanagari(text) {
		return text
	}

	romanized := strings.TrimSpace(anyascii.Transliterate(text))
	if romanized == "" {
		t.logger().Debug("romanization produced no output; keeping original text", zap.String("text", text))
		return text
	}

	return romanized
}

func containsDevanagari(text string) bool {
	for _, r := range text {
		if unicode.Is(unicode.Devanagari, r) {
			return true
		}
	}
	return false
}

func (t *Transliterator) logger() *zap.Logger {
	if t.Logger == nil {
		return zap.NewNop()
	}
	return t.Logger
}
