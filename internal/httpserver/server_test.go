package httpserver

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kaiyuanwu/idiomfill/internal/daily"
	"github.com/kaiyuanwu/idiomfill/internal/game"
	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
	"github.com/kaiyuanwu/idiomfill/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	if err := idiom.Init(); err != nil {
		t.Fatalf("idiom.Init: %v", err)
	}
	if err := i18n.Init(); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "sql", "001_init.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	st := store.NewMemoryStore()
	return New(st, db), st
}

// client carries cookies across requests like a browser would.
type client struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]*http.Cookie
}

func newClient(t *testing.T, h http.Handler) *client {
	return &client{t: t, h: h, cookies: map[string]*http.Cookie{}}
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		c.cookies[ck.Name] = ck
	}
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

// correctOptions returns the option indices holding the round's correct
// words, slot by slot.
func correctOptions(t *testing.T, r *game.Round) (int, int) {
	t.Helper()
	want := r.Challenge.CorrectWords()
	find := func(char string, skip int) int {
		for i, o := range r.Challenge.Options {
			if i != skip && o.Character == char {
				return i
			}
		}
		t.Fatalf("no option for %q", char)
		return -1
	}
	first := find(want[0].Character, -1)
	second := find(want[1].Character, first)
	return first, second
}

// wrongOptions returns two option indices that are distractors.
func wrongOptions(t *testing.T, r *game.Round) (int, int) {
	t.Helper()
	want := r.Challenge.CorrectWords()
	isCorrect := func(char string) bool {
		return char == want[0].Character || char == want[1].Character
	}
	picks := []int{}
	for i, o := range r.Challenge.Options {
		if !isCorrect(o.Character) {
			picks = append(picks, i)
		}
	}
	if len(picks) < 2 {
		t.Fatal("fewer than 2 distractors")
	}
	return picks[0], picks[1]
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv.Router())
	rec := c.do(http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
}

func TestGameFlowCorrectAnswer(t *testing.T) {
	srv, st := newTestServer(t)
	c := newClient(t, srv.Router())

	sess := decode[newSessionRes](t, c.do(http.MethodPost, "/session/new", newSessionReq{Language: "ja"}))
	if sess.SessionID == "" || sess.Lives != 3 || sess.Score != 0 {
		t.Fatalf("bad session: %+v", sess)
	}
	if sess.Welcome == "" || sess.Instructions == "" {
		t.Fatalf("missing localized strings: %+v", sess)
	}

	round := decode[newRoundRes](t, c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID}))
	if round.RoundID == "" || len(round.Options) != 5 {
		t.Fatalf("bad round: %+v", round)
	}
	if n := strings.Count(round.Display, game.Blank); n != 2 {
		t.Fatalf("display %q has %d blanks, want 2", round.Display, n)
	}
	if len(round.Given) != 2 {
		t.Fatalf("got %d given characters, want 2", len(round.Given))
	}

	live, err := st.GetRound(context.Background(), round.RoundID)
	if err != nil {
		t.Fatalf("round not in store: %v", err)
	}
	a, b := correctOptions(t, live)

	fill := decode[fillRes](t, c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: a}))
	if fill.Filled {
		t.Fatalf("one fill reported full slots: %+v", fill)
	}
	fill = decode[fillRes](t, c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: b}))
	if !fill.Filled {
		t.Fatalf("two fills did not fill both slots: %+v", fill)
	}
	if strings.Contains(fill.Display, game.Blank) {
		t.Fatalf("filled display still shows a blank: %q", fill.Display)
	}

	res := decode[submitRes](t, c.do(http.MethodPost, "/round/submit", submitReq{RoundID: round.RoundID}))
	if !res.Correct || res.State != string(game.StateCorrect) {
		t.Fatalf("submit = %+v, want correct", res)
	}
	if res.Score != 1 || res.Lives != 3 {
		t.Fatalf("score/lives = %d/%d, want 1/3", res.Score, res.Lives)
	}
	if len(res.Chars) != 4 || res.Idiom == "" || res.Pinyin == "" {
		t.Fatalf("resolution payload incomplete: %+v", res)
	}

	// The round is discarded after resolution.
	if _, err := st.GetRound(context.Background(), round.RoundID); err == nil {
		t.Error("resolved round still in store")
	}
}

func TestGameFlowLosesLivesToGameOver(t *testing.T) {
	srv, st := newTestServer(t)
	c := newClient(t, srv.Router())

	sess := decode[newSessionRes](t, c.do(http.MethodPost, "/session/new", newSessionReq{Language: "en"}))

	var last submitRes
	for i := 0; i < 3; i++ {
		round := decode[newRoundRes](t, c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID}))
		live, err := st.GetRound(context.Background(), round.RoundID)
		if err != nil {
			t.Fatalf("round %d not in store: %v", i, err)
		}
		a, b := wrongOptions(t, live)
		c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: a})
		c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: b})
		last = decode[submitRes](t, c.do(http.MethodPost, "/round/submit", submitReq{RoundID: round.RoundID}))
		if last.Correct {
			t.Fatalf("round %d: distractor answer marked correct", i)
		}
		if last.Lives != 2-i {
			t.Fatalf("round %d: lives = %d, want %d", i, last.Lives, 2-i)
		}
	}
	if !last.GameOver || last.Farewell == "" {
		t.Fatalf("expected game over after 3 misses: %+v", last)
	}

	rec := c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("round after game over = %d, want 409", rec.Code)
	}
}

func TestCompletedCatalogBumpsStatsOnce(t *testing.T) {
	srv, st := newTestServer(t)
	c := newClient(t, srv.Router())

	rec := c.do(http.MethodPost, "/auth/signup", map[string]string{"username": "completionist", "password": "correcthorse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup = %d: %s", rec.Code, rec.Body.String())
	}

	sess := decode[newSessionRes](t, c.do(http.MethodPost, "/session/new", newSessionReq{Language: "en"}))

	// Win every idiom in the catalog.
	total := len(idiom.All())
	for i := 0; i < total; i++ {
		round := decode[newRoundRes](t, c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID}))
		if round.Completed {
			t.Fatalf("catalog exhausted after %d of %d rounds", i, total)
		}
		live, err := st.GetRound(context.Background(), round.RoundID)
		if err != nil {
			t.Fatalf("round %d not in store: %v", i, err)
		}
		a, b := correctOptions(t, live)
		c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: a})
		c.do(http.MethodPost, "/round/fill", fillReq{RoundID: round.RoundID, Option: b})
		res := decode[submitRes](t, c.do(http.MethodPost, "/round/submit", submitReq{RoundID: round.RoundID}))
		if !res.Correct {
			t.Fatalf("round %d: correct answer rejected", i)
		}
	}

	// Every further poll reports completion...
	for i := 0; i < 3; i++ {
		done := decode[newRoundRes](t, c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID}))
		if !done.Completed {
			t.Fatalf("poll %d after exhaustion: %+v", i, done)
		}
	}

	// ...but the session finishes, and stats bump, exactly once.
	stats := decode[map[string]any](t, c.do(http.MethodGet, "/stats/me", nil))
	if got := stats["gamesPlayed"]; got != float64(1) {
		t.Errorf("gamesPlayed = %v, want 1", got)
	}
	if got := stats["idiomsSolved"]; got != float64(total) {
		t.Errorf("idiomsSolved = %v, want %d", got, total)
	}
	if got := stats["bestScore"]; got != float64(total) {
		t.Errorf("bestScore = %v, want %d", got, total)
	}
}

func TestSubmitUnfilledSlots(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv.Router())

	sess := decode[newSessionRes](t, c.do(http.MethodPost, "/session/new", newSessionReq{}))
	round := decode[newRoundRes](t, c.do(http.MethodPost, "/round/new", newRoundReq{SessionID: sess.SessionID}))

	rec := c.do(http.MethodPost, "/round/submit", submitReq{RoundID: round.RoundID})
	if rec.Code != http.StatusConflict {
		t.Fatalf("submit with empty slots = %d, want 409", rec.Code)
	}
}

func TestRoundNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv.Router())
	rec := c.do(http.MethodPost, "/round/fill", fillReq{RoundID: "nope", Option: 0})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("fill on unknown round = %d, want 404", rec.Code)
	}
}

func TestDailyFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv.Router())

	res := decode[dailyNewRes](t, c.do(http.MethodPost, "/daily/new", dailyNewReq{Language: "ko"}))
	if res.Played || res.GameID == "" || len(res.Options) != 5 {
		t.Fatalf("bad daily puzzle: %+v", res)
	}

	// The puzzle is deterministic per date, so the test can reconstruct it
	// and derive the correct choices from the displayed blanks. The date
	// comes from the response so the rebuild can't straddle midnight.
	day, err := time.Parse("2006-01-02", res.Date)
	if err != nil {
		t.Fatalf("bad date %q: %v", res.Date, err)
	}
	catalog := idiom.All()
	idx := daily.IdiomIndex(day, "local_dev_salt", len(catalog))
	rng := rand.New(rand.NewSource(daily.Seed(day, "local_dev_salt")))
	ch, err := game.NewChallenge(rng, &catalog[idx], idiom.ExtraWords())
	if err != nil {
		t.Fatalf("rebuild daily challenge: %v", err)
	}
	if got := ch.DisplayText(); got != res.Display {
		t.Fatalf("daily display %q does not match deterministic rebuild %q", res.Display, got)
	}

	choices := make([]int, 0, 2)
	for _, want := range ch.CorrectWords() {
		for i, o := range res.Options {
			already := len(choices) == 1 && choices[0] == i
			if o.Word == want.Character && !already {
				choices = append(choices, i)
				break
			}
		}
	}
	if len(choices) != 2 {
		t.Fatalf("could not locate correct options in %+v", res.Options)
	}

	sub := decode[dailySubmitRes](t, c.do(http.MethodPost, "/daily/submit", dailySubmitReq{GameID: res.GameID, Choices: choices}))
	if !sub.Correct || sub.State != "resolved" {
		t.Fatalf("daily submit = %+v, want correct+resolved", sub)
	}
	if sub.Idiom != catalog[idx].Text {
		t.Fatalf("revealed idiom %q, want %q", sub.Idiom, catalog[idx].Text)
	}

	// One attempt per day.
	again := decode[dailyNewRes](t, c.do(http.MethodPost, "/daily/new", dailyNewReq{}))
	if !again.Played {
		t.Fatalf("second /daily/new not locked: %+v", again)
	}

	lb := decode[lbRes](t, c.do(http.MethodGet, "/daily/leaderboard", nil))
	if len(lb.Top) != 1 {
		t.Fatalf("leaderboard rows = %d, want 1", len(lb.Top))
	}
}

func TestAuthSignupAndStats(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv.Router())

	rec := c.do(http.MethodPost, "/auth/signup", map[string]string{"username": "player_one", "password": "correcthorse"})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup = %d: %s", rec.Code, rec.Body.String())
	}

	rec = c.do(http.MethodGet, "/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/auth/me = %d", rec.Code)
	}
	me := decode[authUser](t, rec)
	if me.Username != "player_one" {
		t.Fatalf("me = %+v", me)
	}

	rec = c.do(http.MethodGet, "/stats/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("/stats/me = %d", rec.Code)
	}
	stats := decode[map[string]any](t, rec)
	for _, k := range []string{"gamesPlayed", "bestScore", "idiomsSolved"} {
		if _, ok := stats[k]; !ok {
			t.Errorf("stats missing %q: %v", k, stats)
		}
	}

	// Duplicate username is rejected.
	rec = c.do(http.MethodPost, "/auth/signup", map[string]string{"username": "player_one", "password": "correcthorse"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate signup = %d, want 409", rec.Code)
	}
}
