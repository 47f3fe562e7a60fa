// internal/idiom/types.go
//
// Catalog type definitions.
// Defines:
//   - Word:  a single character with per-language meanings.
//   - Idiom: a four-character idiom with pinyin, meanings, and its words.

package idiom

import "fmt"

// Word is one Chinese character plus its meaning keyed by language code
// ("en", "ja", "ko"). Immutable once loaded.
type Word struct {
	Character string            `json:"word"`
	Meaning   map[string]string `json:"meaning"`
}

// Idiom is a four-character idiom. Words are ordered to match the text:
// Words[i].Character equals the i-th rune of Text.
type Idiom struct {
	Text    string            `json:"idiom"`
	Pinyin  string            `json:"pinyin"`
	Meaning map[string]string `json:"meaning"`
	Words   []Word            `json:"words"`
}

// Runes returns the idiom text as a rune slice (always length 4 after
// validation).
func (id *Idiom) Runes() []rune {
	return []rune(id.Text)
}

// Validate checks the structural invariants of one catalog entry:
// four runes of text, four words, and character/text agreement per position.
func (id *Idiom) Validate() error {
	runes := []rune(id.Text)
	if len(runes) != 4 {
		return fmt.Errorf("%q: idiom text must be 4 characters, got %d", id.Text, len(runes))
	}
	if len(id.Words) != 4 {
		return fmt.Errorf("%q: expected 4 words, got %d", id.Text, len(id.Words))
	}
	for i, w := range id.Words {
		if w.Character != string(runes[i]) {
			return fmt.Errorf("%q: word %d is %q, want %q", id.Text, i, w.Character, string(runes[i]))
		}
	}
	return nil
}
