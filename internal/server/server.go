// Package server exposes the HTTP JSON API over the application core.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"grimoire/internal/app"
	"grimoire/internal/ratelimit"
	"grimoire/internal/session"
	"grimoire/internal/util"
	"grimoire/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions *session.Issuer

	// PublicBaseURL + ImagesPublicPath + "/" + name is the absolute
	// URL clients receive for stored covers.
	PublicBaseURL    string
	ImagesPublicPath string

	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int

	MaxUploadBytes int64
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the book catalog.
type Server struct {
	app              *app.App
	sessions         *session.Issuer
	mux              *http.ServeMux
	publicBaseURL    string
	imagesPublicPath string
	maxUploadBytes   int64
	trustedProxies   *util.TrustedProxies
	signupLimiter    *ratelimit.FixedWindowLimiter
	loginLimiter     *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// enabled only when a Redis address is supplied.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("server requires a session issuer")
	}
	imagesPath := strings.TrimSuffix(cfg.ImagesPublicPath, "/")
	if imagesPath == "" {
		imagesPath = "/images"
	}
	if !strings.HasPrefix(imagesPath, "/") {
		imagesPath = "/" + imagesPath
	}

	s := &Server{
		app:              cfg.App,
		sessions:         cfg.Sessions,
		mux:              http.NewServeMux(),
		publicBaseURL:    strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		imagesPublicPath: imagesPath,
		maxUploadBytes:   normalizeMaxBytes(cfg.MaxUploadBytes),
		trustedProxies:   cfg.TrustedProxies,
	}

	if strings.TrimSpace(cfg.RedisAddr) != "" {
		signupLimit := cfg.SignupRateLimitPerMinute
		if signupLimit <= 0 {
			signupLimit = 5
		}
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "grimoire:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		var err error
		if s.signupLimiter, err = newLimiter("signup", signupLimit); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
	}

	s.routes()
	return s, nil
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("api", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	// books
	s.mux.HandleFunc("/api/books", s.handleBooks)
	s.mux.HandleFunc("/api/books/", s.handleBookByID)

	// stored cover images
	s.mux.HandleFunc(s.imagesPublicPath+"/", s.handleImage)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrapper
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "token.verify", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.sessions.Verify(token)
		if err != nil {
			s.audit(r, "token.verify", "fail", "reason", "invalid_or_expired")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	}
}

// auth handlers
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.SignUp(req.Email, req.Password); err != nil {
		s.audit(r, "signup", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success")
	writeJSON(w, http.StatusCreated, map[string]string{"message": "signup successful"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req authRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.Login(req.Email, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{UserID: user.ID, Token: token})
}

// /api/books
func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListBooks(w, r)
	case http.MethodPost:
		s.authenticated(s.handleCreateBook)(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /api/books/bestrating, /api/books/{id}, /api/books/{id}/rating
func (s *Server) handleBookByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/books/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if id == "bestrating" && len(parts) == 1 {
		s.handleBestRating(w, r)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "rating" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.authenticated(func(w http.ResponseWriter, r *http.Request, userID string) {
			s.handleRateBook(w, r, userID, id)
		})(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetBook(w, r, id)
	case http.MethodPut:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, userID string) {
			s.handleUpdateBook(w, r, userID, id)
		})(w, r)
	case http.MethodDelete:
		s.authenticated(func(w http.ResponseWriter, r *http.Request, userID string) {
			s.handleDeleteBook(w, r, userID, id)
		})(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.ListBooks()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withImageURLs(books))
}

func (s *Server) handleBestRating(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	books, err := s.app.BestRated()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withImageURLs(books))
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, id string) {
	book, err := s.app.GetBook(id)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withImageURL(book))
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, userID string) {
	fields, upload, err := s.parseBookForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if upload == nil {
		writeError(w, http.StatusBadRequest, app.ErrMissingImage.Error())
		return
	}
	input := app.BookInput{}
	if fields.Title != nil {
		input.Title = *fields.Title
	}
	if fields.Author != nil {
		input.Author = *fields.Author
	}
	if fields.Year != nil {
		input.Year = *fields.Year
	}
	if fields.Genre != nil {
		input.Genre = *fields.Genre
	}
	book, err := s.app.CreateBook(r.Context(), userID, input, upload)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookMessageResponse{
		Message: "book added",
		Book:    s.withImageURL(book),
	})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, userID, id string) {
	fields, upload, err := s.parseBookForm(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	patch := app.BookPatch{
		Title:  fields.Title,
		Author: fields.Author,
		Year:   fields.Year,
		Genre:  fields.Genre,
	}
	book, err := s.app.UpdateBook(r.Context(), id, userID, patch, upload)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookMessageResponse{
		Message: "book updated",
		Book:    s.withImageURL(book),
	})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, userID, id string) {
	if err := s.app.DeleteBook(r.Context(), id, userID); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "book deleted"})
}

func (s *Server) handleRateBook(w http.ResponseWriter, r *http.Request, userID, bookID string) {
	var req ratingRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	book, err := s.app.RateBook(r.Context(), bookID, userID, req.Rating)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withImageURL(book))
}

// handleImage streams a stored cover regardless of blob backend.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w)
		return
	}
	name := path.Base(strings.TrimPrefix(r.URL.Path, s.imagesPublicPath+"/"))
	if name == "" || name == "." || name == "/" {
		http.NotFound(w, r)
		return
	}
	rc, err := s.app.OpenImage(r.Context(), name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer rc.Close()
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream image failed", "name", name, "err", err)
	}
}

// parseBookForm reads the book fields and optional cover from either a
// multipart form (field "book" JSON + file "image") or a plain JSON
// body when no image is being sent.
func (s *Server) parseBookForm(w http.ResponseWriter, r *http.Request) (bookFields, *app.Upload, error) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType != "multipart/form-data" {
		var fields bookFields
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&fields); err != nil && !errors.Is(err, io.EOF) {
			return bookFields{}, nil, errors.New("invalid JSON body")
		}
		return fields, nil, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return bookFields{}, nil, errors.New("invalid form data")
	}
	var fields bookFields
	if raw := r.FormValue("book"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return bookFields{}, nil, errors.New("invalid book JSON field")
		}
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return fields, nil, nil
		}
		return bookFields{}, nil, errors.New("invalid image upload")
	}
	// The handler consumes the reader before returning, so closing via
	// the multipart form teardown is sufficient.
	return fields, &app.Upload{Filename: header.Filename, Reader: file}, nil
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrEmailAlreadyExists),
		errors.Is(err, app.ErrMissingImage),
		errors.Is(err, app.ErrInvalidGrade):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "an unexpected error occurred")
	}
}

// withImageURL rewrites the stored blob name into an absolute URL for
// the response; the persisted record keeps only the name.
func (s *Server) withImageURL(book domain.Book) domain.Book {
	if book.ImageName != "" {
		book.ImageName = s.publicBaseURL + s.imagesPublicPath + "/" + book.ImageName
	}
	return book
}

func (s *Server) withImageURLs(books []domain.Book) []domain.Book {
	out := make([]domain.Book, 0, len(books))
	for _, b := range books {
		out = append(out, s.withImageURL(b))
	}
	return out
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
}

type ratingRequest struct {
	Rating int `json:"rating"`
}

type bookFields struct {
	Title  *string `json:"title"`
	Author *string `json:"author"`
	Year   *int    `json:"year"`
	Genre  *string `json:"genre"`
}

type bookMessageResponse struct {
	Message string      `json:"message"`
	Book    domain.Book `json:"book"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 * 1024 * 1024
	}
	return value
}
