// internal/game/engine.go
//
// Challenge generator and answer validator.
// Responsibilities:
//   - Select an unused idiom uniformly at random (SelectIdiom).
//   - Build a challenge: two blank positions, two correct words plus three
//     distinct distractors, uniformly shuffled (NewChallenge).
//   - Apply slot fills with toggle semantics (Fill).
//   - Validate answers in two modes: order-free multiset comparison
//     (CheckChoices) and position-exact reconstruction (CheckSlots).
//   - Drive the round state machine: in_progress → correct|incorrect.
//
// Notes:
//   - All randomness flows through an injected *rand.Rand so tests (and the
//     daily mode) can seed determinism.
//   - Distractors are drawn from the extra-word pool without replacement;
//     the pool is not deduplicated against the idiom's own characters.

package game

import (
	"errors"
	"math/rand"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/kaiyuanwu/idiomfill/internal/idiom"
)

var (
	// ErrRoundResolved is returned by Fill/Submit once a round has resolved.
	ErrRoundResolved = errors.New("round already resolved")
	// ErrSlotsUnfilled is returned by Submit while any slot is still empty.
	ErrSlotsUnfilled = errors.New("slots unfilled")
	// ErrBadOption is returned for an option index outside [0,5).
	ErrBadOption = errors.New("option index out of range")
)

// Blank is the placeholder character for a blanked position.
const Blank = "＿"

// SelectIdiom picks one idiom uniformly at random from the catalog entries
// whose text is not in used. The second return is false when every idiom has
// been used (catalog exhausted — a normal terminal condition, not an error).
func SelectIdiom(rng *rand.Rand, catalog []idiom.Idiom, used map[string]struct{}) (*idiom.Idiom, bool) {
	available := make([]*idiom.Idiom, 0, len(catalog))
	for i := range catalog {
		if _, ok := used[catalog[i].Text]; !ok {
			available = append(available, &catalog[i])
		}
	}
	if len(available) == 0 {
		return nil, false
	}
	return available[rng.Intn(len(available))], true
}

// NewChallenge builds a challenge for id:
//  1. two distinct blank positions drawn from {0,1,2,3}, sorted ascending;
//  2. the correct word at each blank, in blank order;
//  3. three distinct distractors drawn from extra;
//  4. the five options uniformly shuffled;
//  5. both answer slots empty.
//
// Errors only on malformed input (≠4 words, <3 distractors).
func NewChallenge(rng *rand.Rand, id *idiom.Idiom, extra []idiom.Word) (*Challenge, error) {
	if len(id.Words) != 4 {
		return nil, errors.New("idiom must have exactly 4 words")
	}
	if len(extra) < 3 {
		return nil, errors.New("extra word pool needs at least 3 words")
	}

	perm := rng.Perm(4)
	blanks := [2]int{perm[0], perm[1]}
	if blanks[0] > blanks[1] {
		blanks[0], blanks[1] = blanks[1], blanks[0]
	}

	options := make([]idiom.Word, 0, 5)
	options = append(options, id.Words[blanks[0]], id.Words[blanks[1]])
	for _, i := range rng.Perm(len(extra))[:3] {
		options = append(options, extra[i])
	}
	rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return &Challenge{
		Idiom:          id,
		BlankPositions: blanks,
		Options:        options,
		Slots:          [2]int{SlotEmpty, SlotEmpty},
	}, nil
}

// CorrectWords returns the word at each blank position, in blank order.
func (c *Challenge) CorrectWords() []idiom.Word {
	return []idiom.Word{
		c.Idiom.Words[c.BlankPositions[0]],
		c.Idiom.Words[c.BlankPositions[1]],
	}
}

// Fill applies toggle semantics for option:
//   - if option already occupies a slot, that slot is cleared;
//   - otherwise the first empty slot (in blank order) takes it;
//   - if both slots are filled, the fill is ignored.
//
// An option occupies at most one slot at a time.
func (c *Challenge) Fill(option int) error {
	if option < 0 || option >= len(c.Options) {
		return ErrBadOption
	}
	for i, s := range c.Slots {
		if s == option {
			c.Slots[i] = SlotEmpty
			return nil
		}
	}
	for i, s := range c.Slots {
		if s == SlotEmpty {
			c.Slots[i] = option
			return nil
		}
	}
	return nil
}

// Filled reports whether every answer slot holds an option.
func (c *Challenge) Filled() bool {
	return c.Slots[0] != SlotEmpty && c.Slots[1] != SlotEmpty
}

// CheckChoices validates in order-free mode: the multiset of chosen option
// characters must equal the multiset of correct characters, regardless of
// which blank each choice was meant for. Used by sequential prompt flows.
func (c *Challenge) CheckChoices(choices []int) bool {
	if len(choices) != 2 {
		return false
	}
	selected := make([]string, 0, 2)
	for _, idx := range choices {
		if idx < 0 || idx >= len(c.Options) {
			return false
		}
		selected = append(selected, c.Options[idx].Character)
	}
	correct := []string{
		c.Idiom.Words[c.BlankPositions[0]].Character,
		c.Idiom.Words[c.BlankPositions[1]].Character,
	}
	sort.Strings(selected)
	sort.Strings(correct)
	return selected[0] == correct[0] && selected[1] == correct[1]
}

// CheckSlots validates in position-exact mode: the idiom text is
// reconstructed by substituting each slot's option character at its blank
// position, then compared to the original. Returns false (not an error)
// while any slot is empty. Used by slot-based flows.
func (c *Challenge) CheckSlots() bool {
	text, ok := c.Reconstructed()
	return ok && text == c.Idiom.Text
}

// Reconstructed returns the idiom text with slot contents substituted at the
// blank positions. ok is false while any slot is empty.
func (c *Challenge) Reconstructed() (text string, ok bool) {
	if !c.Filled() {
		return "", false
	}
	runes := c.Idiom.Runes()
	for i, pos := range c.BlankPositions {
		runes[pos] = []rune(c.Options[c.Slots[i]].Character)[0]
	}
	return string(runes), true
}

// DisplayText renders the idiom for presentation: filled slots show their
// option's character, empty blanks show the blank placeholder.
func (c *Challenge) DisplayText() string {
	runes := c.Idiom.Runes()
	var b strings.Builder
	for pos, r := range runes {
		blankIdx := -1
		for i, bp := range c.BlankPositions {
			if bp == pos {
				blankIdx = i
			}
		}
		switch {
		case blankIdx == -1:
			b.WriteRune(r)
		case c.Slots[blankIdx] != SlotEmpty:
			b.WriteString(c.Options[c.Slots[blankIdx]].Character)
		default:
			b.WriteString(Blank)
		}
	}
	return b.String()
}

// NewRound wraps a freshly generated challenge in an in-progress round.
func NewRound(sessionID string, c *Challenge) *Round {
	return &Round{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Challenge: c,
		State:     StateInProgress,
	}
}

// Fill forwards a toggle fill to the challenge; rejected once resolved.
func (r *Round) Fill(option int) error {
	if r.State != StateInProgress {
		return ErrRoundResolved
	}
	return r.Challenge.Fill(option)
}

// Submit resolves the round in position-exact mode. It is the only
// transition out of in_progress and requires every slot to be filled;
// submitting with empty slots leaves the round untouched.
func (r *Round) Submit() (correct bool, err error) {
	if r.State != StateInProgress {
		return false, ErrRoundResolved
	}
	if !r.Challenge.Filled() {
		return false, ErrSlotsUnfilled
	}
	if r.Challenge.CheckSlots() {
		r.State = StateCorrect
		return true, nil
	}
	r.State = StateIncorrect
	return false, nil
}

// NextIdiom selects an unused idiom for the session and marks it used.
// ok is false when the session has exhausted the catalog.
func (s *Session) NextIdiom(rng *rand.Rand, catalog []idiom.Idiom) (*idiom.Idiom, bool) {
	id, ok := SelectIdiom(rng, catalog, s.Used)
	if !ok {
		return nil, false
	}
	s.Used[id.Text] = struct{}{}
	return id, true
}
