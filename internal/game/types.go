// internal/game/types.go
//
// Core type definitions for the idiom quiz engine.
// Defines:
//   - Challenge: one blanked idiom with shuffled options and answer slots.
//   - Round:     a challenge plus its lifecycle state.
//   - Session:   lives/score/used-idiom state across rounds of one play-through.

package game

import (
	"github.com/google/uuid"

	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
)

// SlotEmpty marks an answer slot that holds no option yet.
const SlotEmpty = -1

// Challenge is one playable round's puzzle: the source idiom with two
// positions blanked out, five shuffled options (two correct, three
// distractors), and one answer slot per blank.
type Challenge struct {
	Idiom          *idiom.Idiom // source idiom (read-only for the round)
	BlankPositions [2]int       // distinct indices in [0,4), ascending
	Options        []idiom.Word // exactly 5, shuffled
	Slots          [2]int       // option index per blank, or SlotEmpty
}

// RoundState tracks the lifecycle of a single round.
// Possible values:
//   - "in_progress": blanks being filled.
//   - "correct":     resolved, player answered correctly.
//   - "incorrect":   resolved, player answered incorrectly.
type RoundState string

const (
	StateInProgress RoundState = "in_progress"
	StateCorrect    RoundState = "correct"
	StateIncorrect  RoundState = "incorrect"
)

// Round binds a challenge to its state machine. A round resolves exactly
// once, via Submit, and only after every slot is filled.
type Round struct {
	ID        string
	SessionID string
	Challenge *Challenge
	State     RoundState
}

// Session holds the running state of one play-through: remaining lives,
// score, idioms already used (by exact text), and the UI language.
type Session struct {
	ID    string
	Lives int
	Score int
	Used  map[string]struct{}
	Lang  i18n.Lang
}

const initialLives = 3

// NewSession constructs a fresh session with full lives and zero score.
func NewSession(lang i18n.Lang) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Lives: initialLives,
		Score: 0,
		Used:  make(map[string]struct{}),
		Lang:  lang,
	}
}

// GameOver reports whether the session has run out of lives.
func (s *Session) GameOver() bool { return s.Lives <= 0 }

// ApplyResult mutates session counters for a resolved round:
// score increments on a correct answer, lives decrement otherwise.
func (s *Session) ApplyResult(correct bool) {
	if correct {
		s.Score++
	} else if s.Lives > 0 {
		s.Lives--
	}
}
