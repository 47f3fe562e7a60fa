// internal/i18n/i18n.go
//
// Localization table for UI strings served with game responses.
//
// Responsibilities:
//   - Load the translation table from an environment-provided file or fall
//     back to the embedded translations.json.
//   - Validate at load time that every supported language is present.
//   - Supply T(lang, key, args...) lookup with positional {0}, {1}, ...
//     substitution.
//
// Environment variables:
//   TRANSLATIONS_FILE=/path/to/translations.json
//
// Notes:
//   • Unknown keys fall back to the key itself (never an error mid-game).
//   • Initialization is run once (sync.Once).

package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/kaiyuanwu/idiomfill/assets"
)

// Lang is a supported UI language code.
type Lang string

const (
	LangEN Lang = "en"
	LangJA Lang = "ja"
	LangKO Lang = "ko"
)

// Languages lists every supported language, in display order.
var Languages = []Lang{LangEN, LangJA, LangKO}

// ParseLang normalizes a language code; defaults to English for anything
// unrecognized.
func ParseLang(s string) Lang {
	switch Lang(strings.ToLower(strings.TrimSpace(s))) {
	case LangJA:
		return LangJA
	case LangKO:
		return LangKO
	default:
		return LangEN
	}
}

var (
	initOnce   sync.Once
	table      map[Lang]map[string]string
	initialErr error
)

// Init loads the translation table exactly once.
// Returns an error if the table is missing a supported language or malformed.
func Init() error {
	initOnce.Do(func() {
		var raw []byte
		if path := os.Getenv("TRANSLATIONS_FILE"); path != "" {
			b, err := os.ReadFile(path)
			if err != nil {
				initialErr = fmt.Errorf("i18n: read %s: %w", path, err)
				return
			}
			raw = b
		} else {
			b, err := assets.TranslationsJSON()
			if err != nil {
				initialErr = fmt.Errorf("i18n: embedded table: %w", err)
				return
			}
			raw = b
		}

		t, err := parse(raw)
		if err != nil {
			initialErr = err
			return
		}
		table = t
	})
	return initialErr
}

func parse(raw []byte) (map[Lang]map[string]string, error) {
	var doc map[Lang]map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("i18n: decode table: %w", err)
	}
	for _, lang := range Languages {
		if len(doc[lang]) == 0 {
			return nil, fmt.Errorf("i18n: table has no strings for %q", lang)
		}
	}
	return doc, nil
}

// T returns the localized string for key in lang, substituting positional
// placeholders {0}, {1}, ... with args. Unknown keys return the key itself.
func T(lang Lang, key string, args ...any) string {
	s, ok := table[lang][key]
	if !ok {
		return key
	}
	for i, a := range args {
		s = strings.ReplaceAll(s, fmt.Sprintf("{%d}", i), fmt.Sprint(a))
	}
	return s
}
