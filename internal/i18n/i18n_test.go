package i18n

import (
	"testing"
)

func TestParseLang(t *testing.T) {
	cases := []struct {
		in   string
		want Lang
	}{
		{"en", LangEN},
		{"ja", LangJA},
		{"ko", LangKO},
		{"JA", LangJA},
		{" ko ", LangKO},
		{"", LangEN},
		{"fr", LangEN},
	}
	for _, tc := range cases {
		if got := ParseLang(tc.in); got != tc.want {
			t.Errorf("ParseLang(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEmbeddedTable(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	for _, lang := range Languages {
		for _, key := range []string{"correct", "incorrect", "game_over", "completed_all", "lives_remaining"} {
			if got := T(lang, key); got == key {
				t.Errorf("%s/%s: missing translation", lang, key)
			}
		}
	}
}

func TestPositionalSubstitution(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	got := T(LangEN, "lives_remaining", 2)
	if got != "Lives remaining: 2" {
		t.Errorf("T(lives_remaining, 2) = %q", got)
	}
	// Unknown keys fall back to the key itself.
	if got := T(LangJA, "no_such_key"); got != "no_such_key" {
		t.Errorf("unknown key lookup = %q", got)
	}
	// Missing args leave the placeholder in place rather than failing.
	if got := T(LangKO, "lives_remaining"); got == "" {
		t.Error("empty string for placeholder without args")
	}
}
