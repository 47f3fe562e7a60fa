// internal/idiom/idiom.go
//
// Provides the idiom catalog for the game engine.
//
// Responsibilities:
//   - Load the idiom catalog from an environment-provided file or fall back
//     to the embedded default dataset.
//   - Validate catalog integrity at load time (every idiom has exactly four
//     words whose characters match the idiom text position by position).
//   - Supply accessors: All, ExtraWords, ByText, and Stats.
//
// Dataset shape:
//   - "idioms": records with text, pinyin, per-language meaning, and four
//     ordered word records.
//   - "extra_words": distractor word pool of the same word shape.
//
// Initialization behavior (Init):
//   1. If IDIOMS_FILE is set, load the catalog from that path.
//   2. Otherwise fall back to the embedded idioms.json.
//
// Environment variables:
//   IDIOMS_FILE=/path/to/idioms.json
//
// Constraints:
//   • Idiom text must be exactly 4 characters (runes).
//   • words[i] must carry the character at text position i.
//   • The distractor pool must hold at least 3 words, each a single character.
//   • Initialization is run once (sync.Once).

package idiom

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/kaiyuanwu/idiomfill/assets"
)

var (
	initOnce   sync.Once
	catalog    []Idiom
	extraWords []Word
	byText     map[string]*Idiom
	initialErr error
)

// Init loads and validates the catalog exactly once.
// Returns an error if the data is missing or malformed.
func Init() error {
	initOnce.Do(func() {
		var raw []byte
		if path := os.Getenv("IDIOMS_FILE"); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				initialErr = fmt.Errorf("idiom: read %s: %w", path, err)
				return
			}
			raw = b
		} else {
			b, err := assets.IdiomsJSON()
			if err != nil {
				initialErr = fmt.Errorf("idiom: embedded dataset: %w", err)
				return
			}
			raw = b
		}

		cat, extra, err := Parse(raw)
		if err != nil {
			initialErr = err
			return
		}
		catalog = cat
		extraWords = extra
		byText = make(map[string]*Idiom, len(catalog))
		for i := range catalog {
			byText[catalog[i].Text] = &catalog[i]
		}
	})
	return initialErr
}

// Parse decodes and validates a raw catalog document.
// Exposed separately so tests can feed fixture data without touching Init.
func Parse(raw []byte) ([]Idiom, []Word, error) {
	var doc struct {
		Idioms     []Idiom `json:"idioms"`
		ExtraWords []Word  `json:"extra_words"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("idiom: decode catalog: %w", err)
	}
	if len(doc.Idioms) == 0 {
		return nil, nil, fmt.Errorf("idiom: catalog is empty")
	}
	if len(doc.ExtraWords) < 3 {
		return nil, nil, fmt.Errorf("idiom: extra word pool needs at least 3 words, got %d", len(doc.ExtraWords))
	}
	for i := range doc.Idioms {
		if err := doc.Idioms[i].Validate(); err != nil {
			return nil, nil, fmt.Errorf("idiom: catalog entry %d: %w", i, err)
		}
	}
	for i, w := range doc.ExtraWords {
		if n := len([]rune(w.Character)); n != 1 {
			return nil, nil, fmt.Errorf("idiom: extra word %d: %q must be a single character", i, w.Character)
		}
	}
	return doc.Idioms, doc.ExtraWords, nil
}

// All returns the full idiom catalog.
func All() []Idiom {
	return catalog
}

// ExtraWords returns the distractor word pool.
func ExtraWords() []Word {
	return extraWords
}

// ByText looks up an idiom by its exact four-character text.
func ByText(text string) (*Idiom, bool) {
	id, ok := byText[text]
	return id, ok
}

// Stats returns counts of loaded records: (idioms, extra words).
func Stats() (idiomCount int, extraCount int) {
	return len(catalog), len(extraWords)
}
