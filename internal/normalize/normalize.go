// Package normalize turns authorization numbers, procedure codes and
// free-text descriptions into comparable keys.
package normalize

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultMinKeyLength is the shortest authorization key accepted by
// DefaultPolicy. Shorter keys are treated as malformed and dropped.
const DefaultMinKeyLength = 10

// Digits removes every character that is not an ASCII digit.
// Digits(Digits(s)) == Digits(s) for every s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Policy decides which normalized authorization keys are usable.
type Policy struct {
	MinKeyLength int `json:"min_key_length" yaml:"min_key_length" mapstructure:"min_key_length"`
}

// DefaultPolicy returns the policy used when the caller does not supply one.
func DefaultPolicy() Policy {
	return Policy{MinKeyLength: DefaultMinKeyLength}
}

// Validate rejects negative minimum lengths.
func (p Policy) Validate() error {
	if p.MinKeyLength < 0 {
		return fmt.Errorf("min key length cannot be negative: %d", p.MinKeyLength)
	}
	return nil
}

// Key returns the normalized key for s and whether it satisfies the policy.
// An empty key is never valid.
func (p Policy) Key(s string) (string, bool) {
	key := Digits(s)
	if key == "" || len(key) < p.MinKeyLength {
		return key, false
	}
	return key, true
}

// ProcedureKey returns the digits-only form of a procedure code.
// No length policy applies.
func ProcedureKey(s string) string {
	return Digits(s)
}

// CompoundKey identifies a procedure billed under an authorization.
type CompoundKey struct {
	Authorization string `json:"authorization" yaml:"authorization"`
	Procedure     string `json:"procedure" yaml:"procedure"`
}

// NewCompoundKey normalizes both parts.
func NewCompoundKey(authorization, procedure string) CompoundKey {
	return CompoundKey{Authorization: Digits(authorization), Procedure: ProcedureKey(procedure)}
}

// Valid reports whether both parts are non-empty.
func (k CompoundKey) Valid() bool {
	return k.Authorization != "" && k.Procedure != ""
}

func (k CompoundKey) String() string {
	return k.Authorization + "|" + k.Procedure
}

// Less orders keys by authorization, then procedure.
func (k CompoundKey) Less(other CompoundKey) bool {
	if k.Authorization != other.Authorization {
		return k.Authorization < other.Authorization
	}
	return k.Procedure < other.Procedure
}

// MarshalText renders the "aih|proc" form so keys can be map keys in JSON.
func (k CompoundKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "aih|proc" form.
func (k *CompoundKey) UnmarshalText(b []byte) error {
	aih, proc, ok := strings.Cut(string(b), "|")
	if !ok {
		return fmt.Errorf("invalid compound key %q", string(b))
	}
	k.Authorization, k.Procedure = aih, proc
	return nil
}

// FoldText lowercases s, strips diacritics and collapses runs of whitespace,
// so "INTERNAÇÃO  Clínica" and "internacao clinica" compare equal.
func FoldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Words splits folded text into words longer than minLen characters.
// Punctuation separates words.
func Words(s string, minLen int) []string {
	fields := strings.FieldsFunc(FoldText(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > minLen {
			words = append(words, f)
		}
	}
	return words
}
