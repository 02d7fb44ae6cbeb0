package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/sakif/session-auth/internal/apperror"
	"github.com/sakif/session-auth/internal/logging"
	"github.com/sakif/session-auth/internal/model"
	"github.com/sakif/session-auth/internal/service"
	"github.com/sakif/session-auth/internal/session"
)

// APIHandler is the JSON counterpart of PageHandler. It shares the session
// cookie, so a client can log in through either surface.
type APIHandler struct {
	auth     *service.AuthService
	sessions *session.Manager
	logger   *slog.Logger
}

func NewAPIHandler(auth *service.AuthService, sessions *session.Manager, logger *slog.Logger) *APIHandler {
	return &APIHandler{auth: auth, sessions: sessions, logger: logger}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID int64 `json:"id"`
}

type userResponse struct {
	User *model.User `json:"user"`
}

// HandleRegister creates an account.
//
// HTTP: POST /api/register
// REQUEST BODY: {"username": "alice", "password": "pw", "password_confirmation": "pw"}
// RESPONSE: 201 {"id": 1}
func (h *APIHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in service.RegisterInput
	if !h.decode(w, r, &in) {
		return
	}

	id, err := h.auth.Register(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{ID: id})
}

// HandleLogin authenticates and sets the session cookie.
//
// HTTP: POST /api/login
// REQUEST BODY: {"username": "alice", "password": "pw"}
// RESPONSE: 200 {"user": {...}}
func (h *APIHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.auth.Login(r.Context(), session.FromContext(r.Context()), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.sessions.Commit(w, r); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user})
}

// HandleLogout clears the session. Logging out while anonymous is fine.
//
// HTTP: POST /api/logout
// RESPONSE: 204
func (h *APIHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), session.FromContext(r.Context()))

	if err := h.sessions.Commit(w, r); err != nil {
		h.fail(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the logged-in user. The route is gated with
// session.DenyJSON.
//
// HTTP: GET /api/me
// RESPONSE: 200 {"user": {...}}
func (h *APIHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.CurrentUser(r.Context(), session.FromContext(r.Context()))
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			if commitErr := h.sessions.Commit(w, r); commitErr != nil {
				h.fail(w, r, commitErr)
				return
			}
		}
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user})
}

// decode reads a single JSON object into dst. Unknown fields are rejected so
// typos like "pasword" fail loudly.
//
// The body must be declared as application/json. A cross-site HTML form can
// only send form or text/plain bodies, so this keeps the API from being
// driven by another site's forms.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, ErrorResponse{
			Error:   "unsupported_media_type",
			Message: "Content-Type must be application/json.",
		})
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		h.logger.WarnContext(r.Context(), "invalid JSON body", slog.String("error", err.Error()))
		writeError(w, apperror.ValidationFailed("", "Invalid JSON body."))
		return false
	}
	return true
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := errorStatus(err); status >= http.StatusInternalServerError {
		logging.LogError(r.Context(), h.logger, "api request failed", err)
	}
	writeError(w, err)
}
