// internal/httpserver/server.go
//
// HTTP server wiring for the idiom quiz backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/debug/idioms".
//   - Game endpoints (optional auth): POST /session/new, POST /round/new,
//     POST /round/fill, POST /round/submit.
//   - Daily Challenge endpoints (optional auth): mounted under /daily.
//   - Auth + profile/stat endpoints (require auth): /auth/*, /stats/me,
//     /sessions/mine.
//   - JWT + cookie handling, anonymous session cookie, user CRUD helpers.
//   - Database persistence for play sessions and user stats.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token
//     is present; routes can still run for guests.
//   - Require-auth middleware enforces presence and validity of a JWT.
//   - Live rounds and sessions are held in the in-memory store; SQLite keeps
//     the durable owner rows, stats, and daily results.

package httpserver

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	mrand "math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/kaiyuanwu/idiomfill/internal/game"
	"github.com/kaiyuanwu/idiomfill/internal/i18n"
	"github.com/kaiyuanwu/idiomfill/internal/idiom"
	"github.com/kaiyuanwu/idiomfill/internal/store"
)

// Server bundles router, in-memory game store, DB handle, and the RNG that
// drives idiom selection and challenge generation.
type Server struct {
	r     *chi.Mux
	store store.Store
	db    *sql.DB

	mu  sync.Mutex // guards rng
	rng *mrand.Rand
}

// New constructs a Server, installs middleware, and registers routes.
func New(st store.Store, db *sql.DB) *Server {
	s := &Server{
		r:     chi.NewRouter(),
		store: st,
		db:    db,
		rng:   mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}

	// --- middleware ---
	s.r.Use(chimw.RequestID)                 // add X-Request-ID
	s.r.Use(chimw.RealIP)                    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer)                 // recover from panics
	s.r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
	s.r.Use(jsonContentType)                 // default JSON responses
	s.r.Use(corsFromEnv)                     // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"service":"idiomfill-go","endpoints":["/health","POST /session/new","POST /round/new","POST /round/fill","POST /round/submit","/daily/*","/auth/*"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	// Game endpoints — OPTIONAL AUTH (guests can play)
	s.r.With(s.withOptionalAuth()).Post("/session/new", s.handleNewSession)
	s.r.With(s.withOptionalAuth()).Post("/round/new", s.handleNewRound)
	s.r.With(s.withOptionalAuth()).Post("/round/fill", s.handleFill)
	s.r.With(s.withOptionalAuth()).Post("/round/submit", s.handleSubmit)

	// Daily Challenge — OPTIONAL AUTH (guests can play; result persisted)
	s.mountDaily(s.r.With(s.withOptionalAuth()))

	// Auth + profile/stats (require auth)
	s.mountAuthRoutes()

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	// Debug: catalog counts
	s.r.Get("/debug/idioms", func(w http.ResponseWriter, r *http.Request) {
		n, x := idiom.Stats()
		_ = json.NewEncoder(w).Encode(map[string]int{"idioms": n, "extraWords": x})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------ GAME ---------------------------------------

// optionView is one selectable word with its localized meaning.
type optionView struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// givenView is a non-blank idiom character with its localized meaning.
type givenView struct {
	Position int    `json:"position"`
	Word     string `json:"word"`
	Meaning  string `json:"meaning"`
}

func optionViews(opts []idiom.Word, lang i18n.Lang) []optionView {
	out := make([]optionView, len(opts))
	for i, o := range opts {
		out[i] = optionView{Word: o.Character, Meaning: o.Meaning[string(lang)]}
	}
	return out
}

func givenViews(c *game.Challenge, lang i18n.Lang) []givenView {
	out := []givenView{}
	for i, w := range c.Idiom.Words {
		if i == c.BlankPositions[0] || i == c.BlankPositions[1] {
			continue
		}
		out = append(out, givenView{Position: i, Word: w.Character, Meaning: w.Meaning[string(lang)]})
	}
	return out
}

// newSessionReq/Res payloads for POST /session/new.
type newSessionReq struct {
	Language string `json:"language"` // "en" | "ja" | "ko"
}
type newSessionRes struct {
	SessionID    string `json:"sessionId"`
	Lives        int    `json:"lives"`
	Score        int    `json:"score"`
	Welcome      string `json:"welcome"`
	Instructions string `json:"instructions"`
}

// handleNewSession creates a new in-memory session and persists a DB "owner"
// row (either user_id or anonymous_id) for history/stats.
func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	var req newSessionReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	lang := i18n.ParseLang(req.Language)
	sess := game.NewSession(lang)
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		log.Error().Err(err).Msg("save session")
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		_, err := s.db.Exec(`INSERT INTO play_sessions (id, user_id, language, lives, score, started_at, outcome)
		                     VALUES (?,?,?,?,0,?,?)`, sess.ID, me.ID, string(lang), sess.Lives, now, "playing")
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("insert user session row")
		}
	} else {
		anon := s.ensureAnonID(w, r)
		_, err := s.db.Exec(`INSERT INTO play_sessions (id, anonymous_id, language, lives, score, started_at, outcome)
		                     VALUES (?,?,?,?,0,?,?)`, sess.ID, anon, string(lang), sess.Lives, now, "playing")
		if err != nil {
			log.Warn().Err(err).Str("sessionId", sess.ID).Msg("insert anon session row")
		}
	}

	_ = json.NewEncoder(w).Encode(newSessionRes{
		SessionID:    sess.ID,
		Lives:        sess.Lives,
		Score:        sess.Score,
		Welcome:      i18n.T(lang, "welcome"),
		Instructions: i18n.T(lang, "instructions"),
	})
}

// newRoundReq/Res payloads for POST /round/new.
type newRoundReq struct {
	SessionID string `json:"sessionId"`
}
type newRoundRes struct {
	RoundID string       `json:"roundId,omitempty"`
	Display string       `json:"display,omitempty"`
	Pinyin  string       `json:"pinyin,omitempty"`
	Meaning string       `json:"meaning,omitempty"`
	Given   []givenView  `json:"given,omitempty"`
	Options []optionView `json:"options,omitempty"`
	Lives   int          `json:"lives"`
	Score   int          `json:"score"`

	// Set when the catalog is exhausted: session ends in the
	// "completed all idioms" outcome.
	Completed bool   `json:"completed,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleNewRound selects an unused idiom for the session and generates a
// challenge from it. Catalog exhaustion is a normal outcome (Completed=true),
// not an error.
func (s *Server) handleNewRound(w http.ResponseWriter, r *http.Request) {
	var req newRoundReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	sess, err := s.store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		http.Error(w, `{"error":"session_not_found"}`, http.StatusNotFound)
		return
	}
	if sess.GameOver() {
		http.Error(w, `{"error":"game_over"}`, http.StatusConflict)
		return
	}

	s.mu.Lock()
	id, ok := sess.NextIdiom(s.rng, idiom.All())
	if !ok {
		s.mu.Unlock()
		s.finishSessionDB(r, sess, "completed")
		_ = json.NewEncoder(w).Encode(newRoundRes{
			Completed: true,
			Lives:     sess.Lives,
			Score:     sess.Score,
			Message:   i18n.T(sess.Lang, "completed_all"),
		})
		return
	}
	ch, err := game.NewChallenge(s.rng, id, idiom.ExtraWords())
	s.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("idiom", id.Text).Msg("generate challenge")
		http.Error(w, `{"error":"generate_failed"}`, http.StatusInternalServerError)
		return
	}

	round := game.NewRound(sess.ID, ch)
	if err := s.store.SaveRound(r.Context(), round); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(newRoundRes{
		RoundID: round.ID,
		Display: ch.DisplayText(),
		Pinyin:  id.Pinyin,
		Meaning: id.Meaning[string(sess.Lang)],
		Given:   givenViews(ch, sess.Lang),
		Options: optionViews(ch.Options, sess.Lang),
		Lives:   sess.Lives,
		Score:   sess.Score,
	})
}

// fillReq/Res payloads for POST /round/fill.
type fillReq struct {
	RoundID string `json:"roundId"`
	Option  int    `json:"option"`
}
type fillRes struct {
	Display string `json:"display"`
	Slots   [2]int `json:"slots"` // option index per blank, -1 = empty
	Filled  bool   `json:"filled"`
}

// handleFill toggles an option into or out of an answer slot.
func (s *Server) handleFill(w http.ResponseWriter, r *http.Request) {
	var req fillReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	round, err := s.store.GetRound(r.Context(), req.RoundID)
	if err != nil {
		http.Error(w, `{"error":"round_not_found"}`, http.StatusNotFound)
		return
	}
	if err := round.Fill(req.Option); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, game.ErrRoundResolved) {
			status = http.StatusConflict
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}
	if err := s.store.SaveRound(r.Context(), round); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(fillRes{
		Display: round.Challenge.DisplayText(),
		Slots:   round.Challenge.Slots,
		Filled:  round.Challenge.Filled(),
	})
}

// characterView is one idiom character with its localized meaning, returned
// with the resolution so the client can show the full explanation.
type characterView struct {
	Word    string `json:"word"`
	Meaning string `json:"meaning"`
}

// submitReq/Res payloads for POST /round/submit.
type submitReq struct {
	RoundID string `json:"roundId"`
}
type submitRes struct {
	Correct  bool            `json:"correct"`
	State    string          `json:"state"` // "correct" | "incorrect"
	Message  string          `json:"message"`
	Idiom    string          `json:"idiom"`
	Pinyin   string          `json:"pinyin"`
	Meaning  string          `json:"meaning"`
	Chars    []characterView `json:"characters"`
	Lives    int             `json:"lives"`
	Score    int             `json:"score"`
	GameOver bool            `json:"gameOver,omitempty"`
	Farewell string          `json:"farewell,omitempty"`
}

// handleSubmit resolves a round in position-exact mode, applies the result
// to the session, discards the round, and persists counters (best effort).
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	round, err := s.store.GetRound(r.Context(), req.RoundID)
	if err != nil {
		http.Error(w, `{"error":"round_not_found"}`, http.StatusNotFound)
		return
	}
	sess, err := s.store.GetSession(r.Context(), round.SessionID)
	if err != nil {
		http.Error(w, `{"error":"session_not_found"}`, http.StatusNotFound)
		return
	}

	correct, err := round.Submit()
	if err != nil {
		status := http.StatusConflict
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}
	sess.ApplyResult(correct)
	if err := s.store.SaveSession(r.Context(), sess); err != nil {
		http.Error(w, `{"error":"save_failed"}`, http.StatusInternalServerError)
		return
	}
	// The challenge is ephemeral: one round, then gone.
	_ = s.store.DeleteRound(r.Context(), round.ID)

	// Persist counters/history (best effort, non-fatal if it fails).
	if _, err := s.db.Exec(`UPDATE play_sessions SET lives=?, score=? WHERE id=?`,
		sess.Lives, sess.Score, sess.ID); err != nil {
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("update session counters")
	}
	if sess.GameOver() {
		s.finishSessionDB(r, sess, "game_over")
	}

	id := round.Challenge.Idiom
	msg := i18n.T(sess.Lang, "incorrect")
	if correct {
		msg = i18n.T(sess.Lang, "correct")
	} else if !sess.GameOver() {
		msg += " " + i18n.T(sess.Lang, "lives_remaining", sess.Lives)
	}

	res := submitRes{
		Correct: correct,
		State:   string(round.State),
		Message: msg,
		Idiom:   id.Text,
		Pinyin:  id.Pinyin,
		Meaning: id.Meaning[string(sess.Lang)],
		Lives:   sess.Lives,
		Score:   sess.Score,
	}
	for _, wd := range id.Words {
		res.Chars = append(res.Chars, characterView{Word: wd.Character, Meaning: wd.Meaning[string(sess.Lang)]})
	}
	if sess.GameOver() {
		res.GameOver = true
		res.Farewell = i18n.T(sess.Lang, "game_over") + " " + i18n.T(sess.Lang, "final_score") + " " + strconv.Itoa(sess.Score)
	}
	_ = json.NewEncoder(w).Encode(res)
}

// finishSessionDB closes the durable session row and bumps user stats.
// The update is gated on outcome='playing' so a session finishes exactly
// once; repeat polls after exhaustion or game over are no-ops and never
// re-bump stats. Best effort; failures are logged, never surfaced to the
// player.
func (s *Server) finishSessionDB(r *http.Request, sess *game.Session, outcome string) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE play_sessions SET outcome=?, lives=?, score=?, finished_at=? WHERE id=? AND outcome='playing'`,
		outcome, sess.Lives, sess.Score, now, sess.ID)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("finish session")
		return
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return // already finished
	}
	me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
	if me == nil {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		log.Warn().Err(err).Msg("begin stats tx")
		return
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.bumpStats(tx, me.ID, sess.Score); err != nil {
		log.Warn().Err(err).Str("user", me.ID).Msg("bump stats")
		return
	}
	_ = tx.Commit()
}

// ------------------------------- AUTH --------------------------------------

// Request payloads for signup/login.
type signupReq struct{ Username, Password string }
type loginReq struct{ Username, Password string }

// authUser is placed into request context by auth middleware.
type authUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// mountAuthRoutes registers authentication + gated routes (/auth/*, /stats/me, /sessions/mine).
func (s *Server) mountAuthRoutes() {
	s.r.Post("/auth/signup", s.handleSignup)
	s.r.Post("/auth/login", s.handleLogin)
	s.r.Post("/auth/logout", s.handleLogout)

	// Current user (gated)
	s.r.With(s.requireAuth()).Get("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(me)
	})

	// Stats (gated)
	s.r.With(s.requireAuth()).Get("/stats/me", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		u, err := s.findUserByID(me.ID)
		if err != nil {
			http.Error(w, `{"error":"not_found"}`, http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           u.ID,
			"gamesPlayed":  u.GamesPlayed,
			"bestScore":    u.BestScore,
			"idiomsSolved": u.IdiomsSolved,
		})
	})

	// Recent sessions (gated)
	s.r.With(s.requireAuth()).Get("/sessions/mine", func(w http.ResponseWriter, r *http.Request) {
		me, _ := r.Context().Value(ctxUserKey{}).(*authUser)
		if me == nil {
			http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		rows, err := s.db.Query(`SELECT id, language, lives, score, outcome, started_at, COALESCE(finished_at,'')
		                         FROM play_sessions WHERE user_id=? ORDER BY started_at DESC LIMIT 50`, me.ID)
		if err != nil {
			http.Error(w, `{"error":"db_error"}`, http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type sessionRow struct {
			ID         string `json:"id"`
			Language   string `json:"language"`
			Lives      int    `json:"lives"`
			Score      int    `json:"score"`
			Outcome    string `json:"outcome"`
			StartedAt  string `json:"startedAt"`
			FinishedAt string `json:"finishedAt,omitempty"`
		}
		out := []sessionRow{}
		for rows.Next() {
			var sr sessionRow
			if err := rows.Scan(&sr.ID, &sr.Language, &sr.Lives, &sr.Score, &sr.Outcome, &sr.StartedAt, &sr.FinishedAt); err == nil {
				out = append(out, sr)
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
}

// handleSignup creates a new user, signs a JWT, sets auth cookie, and claims anon history.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body signupReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid_json"}`, http.StatusBadRequest)
		return
	}
	u, err := s.createUser(body.Username, body.Password)
	if err != nil {
		if err.Error() == "username taken" {
			http.Error(w, `{"error":"Username taken"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}
	tok, exp, err := s.signJWT(u.ID, u.Username)
	if err != nil {
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setAuthCookie(w, tok, exp)
	// Attach any anonymous sessions to the new account
	s.claimAnonSessions(s.ensureAnonID(w, r), u.ID)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": u.ID, "username": u.Username, "createdAt": u.CreatedAt})
}

// handleLogin authenticates user, sets cookie, and claims anon history.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginReq
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid_json"}`, http.StatusBadRequest)
		return
	}
	u, err := s.findUserByUsername(strings.TrimSpace(body.Username))
	if err != nil || !checkPassword(u.PasswordHash, body.Password) {
		http.Error(w, `{"error":"Invalid username or password"}`, http.StatusUnauthorized)
		return
	}
	tok, exp, err := s.signJWT(u.ID, u.Username)
	if err != nil {
		http.Error(w, `{"error":"sign_failed"}`, http.StatusInternalServerError)
		return
	}
	s.setAuthCookie(w, tok, exp)
	s.claimAnonSessions(s.ensureAnonID(w, r), u.ID)
	_ = json.NewEncoder(w).Encode(map[string]any{"id": u.ID, "username": u.Username})
}

// handleLogout clears the auth cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearAuthCookie(w)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// --------------------------- optional auth ---------------------------------

// withOptionalAuth decorates requests with user context if a valid JWT is present.
// It never 401s; used for routes where guests are allowed.
func (s *Server) withOptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := bearerOrCookie(r); tok != "" {
				claims := jwt.MapClaims{}
				if t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
					return []byte(getEnv("JWT_SECRET", "dev_secret_change_me")), nil
				}); err == nil && t.Valid {
					if id, _ := claims["id"].(string); id != "" {
						if u, err := s.findUserByID(id); err == nil {
							ctx := context.WithValue(r.Context(), ctxUserKey{}, &authUser{ID: u.ID, Username: u.Username})
							r = r.WithContext(ctx)
						}
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

const anonCookieName = "idiomfill_anon"

// ensureAnonID returns an existing anon cookie or sets a new one.
// Used to associate guest sessions with a stable identifier.
func (s *Server) ensureAnonID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := genID()
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   os.Getenv("NODE_ENV") == "production",
		SameSite: func() http.SameSite {
			if os.Getenv("NODE_ENV") == "production" {
				return http.SameSiteNoneMode
			}
			return http.SameSiteLaxMode
		}(),
		Expires: time.Now().Add(180 * 24 * time.Hour),
	})
	return id
}

// claimAnonSessions transfers any anonymous play sessions to a user account after auth.
func (s *Server) claimAnonSessions(anonID, userID string) {
	if anonID == "" || userID == "" {
		return
	}
	if _, err := s.db.Exec(`UPDATE play_sessions SET user_id=?, anonymous_id=NULL WHERE anonymous_id=?`, userID, anonID); err != nil {
		log.Warn().Err(err).Msg("claim anon sessions")
	}
}

// ------------------------ auth helpers & users -----------------------------

// userRow matches the users table shape.
type userRow struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	GamesPlayed  int
	BestScore    int
	IdiomsSolved int
}

// createUser validates input, checks uniqueness, hashes password, and inserts a new user.
func (s *Server) createUser(username, pw string) (*userRow, error) {
	username = normalizeUsername(username)
	if err := validateSignup(username, pw); err != nil {
		return nil, err
	}
	var exists int
	_ = s.db.QueryRow(`SELECT 1 FROM users WHERE lower(username)=lower(?)`, username).Scan(&exists)
	if exists == 1 {
		return nil, errors.New("username taken")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	id := genID()
	if _, err := s.db.Exec(`INSERT INTO users (id, username, password_hash, created_at) VALUES (?,?,?,?)`,
		id, username, string(h), now); err != nil {
		return nil, err
	}
	return &userRow{ID: id, Username: username, PasswordHash: string(h), CreatedAt: mustParse(now)}, nil
}

// findUserByUsername/ID load a user row or return an error if missing.
func (s *Server) findUserByUsername(username string) (*userRow, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, created_at, games_played, best_score, idioms_solved
	                      FROM users WHERE lower(username)=lower(?)`, username)
	return scanUser(row)
}
func (s *Server) findUserByID(id string) (*userRow, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, created_at, games_played, best_score, idioms_solved
	                      FROM users WHERE id=?`, id)
	return scanUser(row)
}

// scanUser converts a *sql.Row into a userRow.
func scanUser(row *sql.Row) (*userRow, error) {
	var u userRow
	var created string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created, &u.GamesPlayed, &u.BestScore, &u.IdiomsSolved); err != nil {
		return nil, err
	}
	u.CreatedAt = mustParse(created)
	return &u, nil
}

// mustParse parses RFC3339 timestamps; on error returns zero time.
func mustParse(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// checkPassword is a bcrypt verifier.
func checkPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

// normalizeUsername trims whitespace; adjust here if you want stricter rules.
func normalizeUsername(u string) string {
	return strings.TrimSpace(u)
}

// validateSignup enforces basic username/password rules.
func validateSignup(u, p string) error {
	if len(u) < 3 || len(u) > 24 {
		return errors.New("username must be 3–24 chars")
	}
	for _, r := range u {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return errors.New("username: letters, numbers, underscore only")
		}
	}
	if len(p) < 8 || len(p) > 100 {
		return errors.New("password must be 8–100 chars")
	}
	return nil
}

// genID creates a 22-char URL-safe, crypto-random identifier (no padding).
func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	s := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(b[:])
	if len(s) > 22 {
		return s[:22]
	}
	return s
}

// bumpStats increments games played and idioms solved; keeps the best score
// (within tx).
func (s *Server) bumpStats(tx *sql.Tx, userID string, score int) error {
	var gp, best, solved int
	row := tx.QueryRow(`SELECT games_played, best_score, idioms_solved FROM users WHERE id=?`, userID)
	if err := row.Scan(&gp, &best, &solved); err != nil {
		return err
	}
	gp++
	solved += score
	if score > best {
		best = score
	}
	_, err := tx.Exec(`UPDATE users SET games_played=?, best_score=?, idioms_solved=? WHERE id=?`, gp, best, solved, userID)
	return err
}

// ------------------------------ JWT & cookies ------------------------------

// signJWT creates an HS256 JWT with id/username and a configurable expiry (JWT_EXPIRES_DAYS; default 14).
func (s *Server) signJWT(id, username string) (string, time.Time, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev_secret_change_me"
	}
	days := 14
	if v := os.Getenv("JWT_EXPIRES_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			days = n
		}
	}
	exp := time.Now().Add(time.Duration(days) * 24 * time.Hour)
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":       id,
		"username": username,
		"exp":      exp.Unix(),
		"iat":      time.Now().Unix(),
	})
	ss, err := t.SignedString([]byte(secret))
	return ss, exp, err
}

// setAuthCookie writes the auth token cookie with appropriate security attributes.
func (s *Server) setAuthCookie(w http.ResponseWriter, token string, exp time.Time) {
	name := getEnv("COOKIE_NAME", "idiomfill_token")
	secure := os.Getenv("NODE_ENV") == "production"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode // required for third-party contexts when Secure
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  exp,
	})
}

// clearAuthCookie deletes the auth token cookie.
func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	name := getEnv("COOKIE_NAME", "idiomfill_token")
	secure := os.Getenv("NODE_ENV") == "production"
	sameSite := http.SameSiteLaxMode
	if secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   -1,
	})
}

// bearerOrCookie extracts a bearer token from Authorization header or auth cookie.
func bearerOrCookie(r *http.Request) string {
	// Authorization: Bearer <token>
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(getEnv("COOKIE_NAME", "idiomfill_token")); err == nil {
		return c.Value
	}
	return ""
}

// ---------------------------- auth middleware ------------------------------

// ctxUserKey is the context key type for storing authUser.
type ctxUserKey struct{}

// requireAuth enforces a valid JWT and injects authUser into request context.
func (s *Server) requireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerOrCookie(r)
			if tokenStr == "" {
				http.Error(w, `{"error":"Unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return []byte(getEnv("JWT_SECRET", "dev_secret_change_me")), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			id, _ := claims["id"].(string)
			username, _ := claims["username"].(string)
			if id == "" || username == "" {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			// Ensure user still exists
			if _, err := s.findUserByID(id); err != nil {
				http.Error(w, `{"error":"Invalid token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxUserKey{}, &authUser{ID: id, Username: username})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ------------------------------- small util --------------------------------

// getEnv returns the value of k or def if unset/empty.
func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
