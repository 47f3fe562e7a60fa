package game

import (
	"math/rand"
	"testing"

	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
)

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession(i18n.LangKO)
	if s.Lives != 3 || s.Score != 0 {
		t.Fatalf("new session lives=%d score=%d, want 3/0", s.Lives, s.Score)
	}
	if s.Lang != i18n.LangKO {
		t.Fatalf("lang = %v, want ko", s.Lang)
	}
	if s.ID == "" {
		t.Fatal("session ID is empty")
	}
	if s.GameOver() {
		t.Fatal("fresh session reports game over")
	}
}

func TestApplyResult(t *testing.T) {
	s := NewSession(i18n.LangEN)

	s.ApplyResult(true)
	s.ApplyResult(true)
	if s.Score != 2 || s.Lives != 3 {
		t.Fatalf("after 2 wins: score=%d lives=%d, want 2/3", s.Score, s.Lives)
	}

	s.ApplyResult(false)
	s.ApplyResult(false)
	s.ApplyResult(false)
	if s.Lives != 0 || !s.GameOver() {
		t.Fatalf("after 3 losses: lives=%d gameOver=%v, want 0/true", s.Lives, s.GameOver())
	}

	// Lives never go negative.
	s.ApplyResult(false)
	if s.Lives != 0 {
		t.Fatalf("lives = %d, want 0", s.Lives)
	}
}

func TestNextIdiomNeverRepeats(t *testing.T) {
	catalog := make([]idiom.Idiom, 0, 4)
	texts := []string{"一二三四", "五六七八", "东南西北", "春夏秋冬"}
	for _, text := range texts {
		runes := []rune(text)
		words := make([]idiom.Word, 4)
		for i, r := range runes {
			words[i] = idiom.Word{Character: string(r)}
		}
		catalog = append(catalog, idiom.Idiom{Text: text, Words: words})
	}

	s := NewSession(i18n.LangEN)
	rng := rand.New(rand.NewSource(42))

	seen := map[string]bool{}
	for i := 0; i < len(catalog); i++ {
		id, ok := s.NextIdiom(rng, catalog)
		if !ok {
			t.Fatalf("exhausted after %d idioms, want %d", i, len(catalog))
		}
		if seen[id.Text] {
			t.Fatalf("idiom %q repeated within session", id.Text)
		}
		seen[id.Text] = true
	}

	if _, ok := s.NextIdiom(rng, catalog); ok {
		t.Fatal("expected exhaustion once every idiom was used")
	}
}
