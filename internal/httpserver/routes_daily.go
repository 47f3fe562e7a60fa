// internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Idiom" mode.
// Exposes three endpoints under /daily:
//   - POST /daily/new         → start today's puzzle (creates or reuses session)
//   - POST /daily/submit      → submit choices for today's puzzle
//   - GET  /daily/leaderboard → fetch fastest correct answers for a date
//
// Each user can play once per day (enforced by DB + in-memory session).
// Sessions are held in memory for active play and persisted to DB on submit.
// The puzzle is fully deterministic per date: HMAC(salt, date) picks the
// idiom AND seeds the challenge RNG, so every player sees the same blanks,
// distractors, and option order.
//
// Answers are validated in order-free mode: two choices, either order, and
// the puzzle resolves on the single submit (no slot filling over HTTP).

package httpserver

import (
	"encoding/json"
	mrand "math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kaiyuanwu/idiomfill/internal/daily"
	"github.com/kaiyuanwu/idiomfill/internal/game"
	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv      *Server
	store    *daily.Store
	salt     string
	sessions map[string]*dailySession // active sessions keyed by userID|date
	mu       sync.Mutex               // guards sessions
}

// dailySession holds transient in-memory state for an in-progress daily puzzle.
type dailySession struct {
	GameID     string
	UserID     string
	Date       string
	IdiomIndex int
	Challenge  *game.Challenge
	Start      time.Time
	Finished   bool
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	dd := &dailyServer{
		srv:      s,
		store:    daily.NewStore(s.db),
		salt:     getEnv("DAILY_SALT", "local_dev_salt"),
		sessions: make(map[string]*dailySession),
	}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Post("/submit", dd.handleSubmit)
		r.Get("/leaderboard", dd.handleLeaderboard)
	})
}

// puzzleNow returns today's date key plus the deterministic idiom index and
// a freshly generated (but date-deterministic) challenge.
func (d *dailyServer) puzzleNow() (date string, idx int, ch *game.Challenge, err error) {
	now := time.Now().UTC()
	date = daily.DateKey(now)
	catalog := idiom.All()
	if len(catalog) == 0 {
		return date, 0, nil, nil
	}
	idx = daily.IdiomIndex(now, d.salt, len(catalog))
	rng := mrand.New(mrand.NewSource(daily.Seed(now, d.salt)))
	ch, err = game.NewChallenge(rng, &catalog[idx], idiom.ExtraWords())
	return date, idx, ch, err
}

// userIDWithAnon returns the authenticated user ID if logged in,
// otherwise ensures an anonymous ID via Server.ensureAnonID.
func (d *dailyServer) userIDWithAnon(w http.ResponseWriter, r *http.Request) (string, bool) {
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		return me.ID, true
	}
	return d.srv.ensureAnonID(w, r), true
}

// -----------------------------------------------------------------------------
// /daily/new

// dailyNewReq is the request payload for /daily/new.
type dailyNewReq struct {
	Language string `json:"language"`
}

// dailyNewRes is returned by /daily/new.
type dailyNewRes struct {
	GameID  string       `json:"gameId"`
	Date    string       `json:"date"`
	Played  bool         `json:"played"`
	Display string       `json:"display,omitempty"`
	Pinyin  string       `json:"pinyin,omitempty"`
	Meaning string       `json:"meaning,omitempty"`
	Given   []givenView  `json:"given,omitempty"`
	Options []optionView `json:"options,omitempty"`
}

// handleNew creates or reuses a daily session for the current date.
// - If user already has a DB row for today → return Played=true.
// - Otherwise create/reuse an in-memory session and return the puzzle.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	uid, ok := d.userIDWithAnon(w, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dailyNewReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	lang := i18n.ParseLang(req.Language)

	date, idx, ch, err := d.puzzleNow()
	if err != nil || ch == nil {
		http.Error(w, `{"error":"puzzle_unavailable"}`, http.StatusInternalServerError)
		return
	}

	// Check if already played (persisted in DB).
	if played, err := d.store.AlreadyPlayed(r.Context(), uid, date); err == nil && played {
		_ = json.NewEncoder(w).Encode(dailyNewRes{GameID: "", Date: date, Played: true})
		return
	}

	// Reuse or create session in memory.
	key := uid + "|" + date
	d.mu.Lock()
	sess, ok := d.sessions[key]
	if !ok {
		sess = &dailySession{
			GameID:     genID(),
			UserID:     uid,
			Date:       date,
			IdiomIndex: idx,
			Challenge:  ch,
			Start:      time.Now(),
		}
		d.sessions[key] = sess
	}
	d.mu.Unlock()

	_ = json.NewEncoder(w).Encode(dailyNewRes{
		GameID:  sess.GameID,
		Date:    date,
		Played:  false,
		Display: sess.Challenge.DisplayText(),
		Pinyin:  sess.Challenge.Idiom.Pinyin,
		Meaning: sess.Challenge.Idiom.Meaning[string(lang)],
		Given:   givenViews(sess.Challenge, lang),
		Options: optionViews(sess.Challenge.Options, lang),
	})
}

// -----------------------------------------------------------------------------
// /daily/submit

// dailySubmitReq is the request payload for /daily/submit.
type dailySubmitReq struct {
	GameID  string `json:"gameId"`
	Choices []int  `json:"choices"` // two option indices, any order
}

// dailySubmitRes is the response payload for /daily/submit.
type dailySubmitRes struct {
	Correct bool   `json:"correct"`
	State   string `json:"state"` // resolved | locked
	Idiom   string `json:"idiom"`
	Pinyin  string `json:"pinyin"`
}

// handleSubmit validates today's choices in order-free mode.
// - Ensures valid GameID and exactly two choices.
// - Rejects if no session or session finished.
// - Persists the result (win or lose — one attempt per day).
func (d *dailyServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	uid, ok := d.userIDWithAnon(w, r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var p dailySubmitReq
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if p.GameID == "" || len(p.Choices) != 2 {
		http.Error(w, "invalid", http.StatusBadRequest)
		return
	}

	date := daily.DateKey(time.Now().UTC())

	// Find session.
	key := uid + "|" + date
	d.mu.Lock()
	sess, ok := d.sessions[key]
	d.mu.Unlock()
	if !ok || sess.GameID != p.GameID {
		http.Error(w, "no session", http.StatusConflict)
		return
	}
	if sess.Finished {
		_ = json.NewEncoder(w).Encode(dailySubmitRes{State: "locked", Idiom: sess.Challenge.Idiom.Text, Pinyin: sess.Challenge.Idiom.Pinyin})
		return
	}

	for _, c := range p.Choices {
		if c < 0 || c >= len(sess.Challenge.Options) {
			http.Error(w, "choice out of range", http.StatusBadRequest)
			return
		}
	}

	correct := sess.Challenge.CheckChoices(p.Choices)

	d.mu.Lock()
	sess.Finished = true
	d.mu.Unlock()

	elapsed := int(time.Since(sess.Start).Milliseconds())
	_ = d.store.InsertResult(r.Context(), daily.Result{
		UserID: uid, Date: date, IdiomIndex: sess.IdiomIndex, Correct: correct, ElapsedMs: elapsed,
	})

	_ = json.NewEncoder(w).Encode(dailySubmitRes{
		Correct: correct,
		State:   "resolved",
		Idiom:   sess.Challenge.Idiom.Text,
		Pinyin:  sess.Challenge.Idiom.Pinyin,
	})
}

// -----------------------------------------------------------------------------
// /daily/leaderboard

// lbRes is returned by /daily/leaderboard.
type lbRes struct {
	Date string        `json:"date"`
	Top  []daily.LBRow `json:"top"`
}

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = daily.DateKey(time.Now().UTC())
	}
	rows, err := d.store.Leaderboard(r.Context(), date, 20)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}
