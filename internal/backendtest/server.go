// Package backendtest runs an in-process fake of the Memory Vault REST
// backend for SDK and CLI tests. It keeps users, tokens and memories in
// memory and lets tests inject failures and latency per route.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/memoryvault/client/internal/types"
)

type account struct {
	password string
	user     types.User
}

type fault struct {
	status int
	body   string
	remain int
}

// Server is a fake backend. All methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	accounts    map[string]*account        // by email
	tokens      map[string]string          // token -> user id
	memories    map[string][]types.Memory  // user id -> newest first
	media       map[string][]byte          // memory id -> bytes
	faults      map[string]*fault          // "METHOD route" -> fault
	delays      map[string][]time.Duration // "METHOD route" -> per-call delays, consumed in order
	calls       map[string]int
	holds       map[string]*Hold
	issueJWT    func(userID string) string
	clock       func() time.Time
	nextCreated time.Time
}

// Route names used for faults, delays and call counts.
const (
	RouteLogin    = "POST /auth/login"
	RouteRegister = "POST /auth/register"
	RouteMe       = "GET /auth/me"
	RouteList     = "GET /memories"
	RouteGet      = "GET /memories/{id}"
	RouteCreate   = "POST /memories"
	RouteUpdate   = "PUT /memories/{id}"
	RouteDelete   = "DELETE /memories/{id}"
	RouteDownload = "GET /memories/{id}/download"
)

// New starts a fake backend. Call Close when done.
func New() *Server {
	s := &Server{
		accounts: make(map[string]*account),
		tokens:   make(map[string]string),
		memories: make(map[string][]types.Memory),
		media:    make(map[string][]byte),
		faults:   make(map[string]*fault),
		delays:   make(map[string][]time.Duration),
		calls:    make(map[string]int),
		holds:    make(map[string]*Hold),
		clock:    time.Now,
	}
	s.srv = httptest.NewServer(s.router())
	return s
}

// URL is the API base URL, including the /api prefix.
func (s *Server) URL() string { return s.srv.URL + "/api" }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// AddUser registers an account directly and returns its user record.
func (s *Server) AddUser(email, username, password string) types.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := types.User{ID: "u-" + uuid.NewString()[:8], Email: email, Username: username}
	s.accounts[email] = &account{password: password, user: u}
	return u
}

// IssueToken mints a valid token for an existing account.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked(s.accounts[email].user.ID)
}

// WithJWT makes the server mint tokens with fn instead of random strings.
func (s *Server) WithJWT(fn func(userID string) string) {
	s.mu.Lock()
	s.issueJWT = fn
	s.mu.Unlock()
}

// Revoke invalidates a token; later calls with it get 401.
func (s *Server) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

// RevokeAll invalidates every token.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	s.tokens = make(map[string]string)
	s.mu.Unlock()
}

// SeedMemory stores m for the account's user. Newer CreatedAt sorts first.
func (s *Server) SeedMemory(email string, m types.Memory) types.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	uid := s.accounts[email].user.ID
	if m.ID == "" {
		m.ID = "m-" + uuid.NewString()[:8]
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock().UTC()
	}
	list := append(s.memories[uid], m)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	s.memories[uid] = list
	s.media[m.ID] = []byte("media:" + m.ID)
	return m
}

// Memory returns the server-side copy of a memory.
func (s *Server) Memory(email, id string) (types.Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memories[s.accounts[email].user.ID] {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return types.Memory{}, false
}

// Fail makes the next n calls to route answer with status and body.
func (s *Server) Fail(route string, status int, body string, n int) {
	s.mu.Lock()
	s.faults[route] = &fault{status: status, body: body, remain: n}
	s.mu.Unlock()
}

// Delay queues per-call latencies for route, consumed one per call.
func (s *Server) Delay(route string, delays ...time.Duration) {
	s.mu.Lock()
	s.delays[route] = append(s.delays[route], delays...)
	s.mu.Unlock()
}

// Hold parks a response after the handler has produced it.
type Hold struct {
	arrived chan struct{}
	release chan struct{}
	once    sync.Once
}

// Arrived is closed once the held call has its response ready.
func (h *Hold) Arrived() <-chan struct{} { return h.arrived }

// Release lets the held response go out. Safe to call more than once.
func (h *Hold) Release() { h.once.Do(func() { close(h.release) }) }

// Hold parks the next call to route until Release: the response reflects
// server state when the call arrived, but reaches the client only later.
func (s *Server) Hold(route string) *Hold {
	h := &Hold{arrived: make(chan struct{}), release: make(chan struct{})}
	s.mu.Lock()
	s.holds[route] = h
	s.mu.Unlock()
	return h
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) issueLocked(userID string) string {
	tok := "tok-" + uuid.NewString()
	if s.issueJWT != nil {
		tok = s.issueJWT(userID)
	}
	s.tokens[tok] = userID
	return tok
}

func (s *Server) router() http.Handler {
	root := mux.NewRouter()
	api := root.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/login", s.wrap(RouteLogin, false, s.handleLogin)).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.wrap(RouteRegister, false, s.handleRegister)).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.wrap(RouteMe, true, s.handleMe)).Methods(http.MethodGet)
	api.HandleFunc("/memories", s.wrap(RouteList, true, s.handleList)).Methods(http.MethodGet)
	api.HandleFunc("/memories", s.wrap(RouteCreate, true, s.handleCreate)).Methods(http.MethodPost)
	api.HandleFunc("/memories/{id}", s.wrap(RouteGet, true, s.handleGet)).Methods(http.MethodGet)
	api.HandleFunc("/memories/{id}", s.wrap(RouteUpdate, true, s.handleUpdate)).Methods(http.MethodPut)
	api.HandleFunc("/memories/{id}", s.wrap(RouteDelete, true, s.handleDelete)).Methods(http.MethodDelete)
	api.HandleFunc("/memories/{id}/download", s.wrap(RouteDownload, true, s.handleDownload)).Methods(http.MethodGet)
	return root
}

type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// wrap counts the call, applies delay and fault injection, then checks the
// bearer token when auth is required. A held call is answered into a
// recorder first and flushed on release.
func (s *Server) wrap(route string, auth bool, h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		var delay time.Duration
		if q := s.delays[route]; len(q) > 0 {
			delay, s.delays[route] = q[0], q[1:]
		}
		var injected *fault
		if f := s.faults[route]; f != nil && f.remain > 0 {
			f.remain--
			injected = f
		}
		hold := s.holds[route]
		delete(s.holds, route)
		s.mu.Unlock()

		if hold == nil {
			s.serve(w, r, delay, injected, auth, h)
			return
		}
		rec := httptest.NewRecorder()
		s.serve(rec, r, delay, injected, auth, h)
		close(hold.arrived)
		select {
		case <-hold.release:
		case <-r.Context().Done():
			return
		}
		for k, v := range rec.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, delay time.Duration, injected *fault, auth bool, h authedHandler) {
	if delay > 0 {
		time.Sleep(delay)
	}
	if injected != nil {
		w.WriteHeader(injected.status)
		_, _ = io.WriteString(w, injected.body)
		return
	}

	var userID string
	if auth {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		uid, ok := s.tokens[tok]
		s.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token is not valid"})
			return
		}
		userID = uid
	}
	h(w, r, userID)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, _ string) {
	var req types.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request"})
		return
	}
	s.mu.Lock()
	acc, ok := s.accounts[req.Email]
	if !ok || acc.password != req.Password {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})
		return
	}
	tok := s.issueLocked(acc.user.ID)
	u := acc.user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "encryptionKey": "ek-" + u.ID, "user": u})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ string) {
	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed request"})
		return
	}
	s.mu.Lock()
	if _, exists := s.accounts[req.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"message": "User already exists"})
		return
	}
	u := types.User{ID: "u-" + uuid.NewString()[:8], Email: req.Email, Username: req.Username}
	s.accounts[req.Email] = &account{password: req.Password, user: u}
	tok := s.issueLocked(u.ID)
	s.mu.Unlock()
	// Flat shape, as some deployments answer.
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": tok, "_id": u.ID, "email": u.Email, "username": u.Username,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.user.ID == userID {
			writeJSON(w, http.StatusOK, acc.user)
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "User not found"})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request, userID string) {
	s.mu.Lock()
	list := make([]types.Memory, len(s.memories[userID]))
	for i, m := range s.memories[userID] {
		list[i] = m.Clone()
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) findLocked(userID, id string) int {
	for i, m := range s.memories[userID] {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(userID, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Memory not found"})
		return
	}
	writeJSON(w, http.StatusOK, s.memories[userID][i])
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, userID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Expected multipart form"})
		return
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "No file uploaded"})
		return
	}
	data, _ := io.ReadAll(f)
	_ = f.Close()

	m := types.Memory{
		ID:          "m-" + uuid.NewString()[:8],
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Tags:        r.MultipartForm.Value["tags"],
	}
	if lat, lng := r.FormValue("lat"), r.FormValue("lng"); lat != "" && lng != "" {
		la, err1 := strconv.ParseFloat(lat, 64)
		ln, err2 := strconv.ParseFloat(lng, 64)
		if err1 != nil || err2 != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid location"})
			return
		}
		m.Location = &types.Location{Lat: la, Lng: ln}
	}

	s.mu.Lock()
	m.CreatedAt = s.clock().UTC()
	m.MediaRef = fmt.Sprintf("/uploads/%s", m.ID)
	s.memories[userID] = append([]types.Memory{m}, s.memories[userID]...)
	s.media[m.ID] = data
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	var patch types.MemoryPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed patch"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(userID, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Memory not found"})
		return
	}
	s.memories[userID][i] = patch.Apply(s.memories[userID][i])
	writeJSON(w, http.StatusOK, s.memories[userID][i])
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.findLocked(userID, id)
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Memory not found"})
		return
	}
	list := s.memories[userID]
	s.memories[userID] = append(list[:i:i], list[i+1:]...)
	delete(s.media, id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Memory deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, userID string) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	i := s.findLocked(userID, id)
	data := s.media[id]
	s.mu.Unlock()
	if i < 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Memory not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
