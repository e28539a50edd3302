// Package api adapts the registration ledger, scan service, and directory
// to HTTP. Handlers translate sentinel errors into stable error codes; no
// business rules live here.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"qrpass/cmd/internal/attendance"
	"qrpass/cmd/internal/directory"
	"qrpass/cmd/internal/registration"
)

// Handler wires HTTP endpoints to the domain services.
type Handler struct {
	log *slog.Logger
	cfg Config

	users   directory.UserDirectory
	catalog directory.EventCatalog
	ledger  *registration.Service
	scanner *attendance.Service

	// feed is mounted under admin auth; nil disables the route.
	feed http.Handler
}

// NewHandler constructs the HTTP adapter. feed may be nil.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	users directory.UserDirectory,
	catalog directory.EventCatalog,
	ledger *registration.Service,
	scanner *attendance.Service,
	feed http.Handler,
) (*Handler, error) {
	if users == nil || catalog == nil || ledger == nil || scanner == nil {
		return nil, errors.New("api: missing dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	return &Handler{
		log:     log,
		cfg:     cfg,
		users:   users,
		catalog: catalog,
		ledger:  ledger,
		scanner: scanner,
		feed:    feed,
	}, nil
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/events", h.handleEvents)
	mux.HandleFunc("/events/", h.handleEventByID)
	mux.HandleFunc("/registrations", h.handleRegistrations)
	mux.HandleFunc("/registrations/", h.handleRegistrationByID)
	mux.HandleFunc("/admin/registrations", h.handleAdminRegistrations)
	mux.HandleFunc("/scan", h.handleScan)
	if h.feed != nil {
		mux.HandleFunc("/feed", h.handleFeed)
	}
}

// ---- auth ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := time.Now().UTC()

	user, err := h.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, directory.ErrAuthFailed) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
			return
		}
		h.log.Error("api.login.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	token, err := h.users.IssueSession(ctx, user.ID, h.cfg.SessionTTL, now)
	if err != nil {
		h.log.Error("api.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: now.Add(h.cfg.SessionTTL),
		User:      toUserResponse(user),
	})
}

// requireUser resolves the bearer token. On failure it writes 401 and
// returns ok=false.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (directory.UserSummary, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return directory.UserSummary{}, false
	}

	user, err := h.users.ResolveSession(r.Context(), token, time.Now().UTC())
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired session")
			return directory.UserSummary{}, false
		}
		h.log.Error("api.resolve_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return directory.UserSummary{}, false
	}
	return user, true
}

// requireAdmin is requireUser plus the admin capability check (403 otherwise).
func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (directory.UserSummary, bool) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return directory.UserSummary{}, false
	}
	if !user.IsAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "admin access required")
		return directory.UserSummary{}, false
	}
	return user, true
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	// WebSocket clients cannot set headers from browsers; accept a query
	// token as fallback for the feed route only.
	if r.URL.Path == "/feed" {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}

// ---- events ----

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listEvents(w, r)
	case http.MethodPost:
		h.createEvent(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireUser(w, r); !ok {
		return
	}

	events, err := h.catalog.ListEvents(r.Context())
	if err != nil {
		h.log.Error("api.events.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := eventListResponse{Events: make([]eventResponse, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	in := directory.CreateEventInput{
		Name:        req.Name,
		Description: req.Description,
		Location:    req.Location,
		Capacity:    req.Capacity,
		Status:      directory.EventStatus(req.Status),
		CreatedBy:   admin.ID,
	}
	if req.StartsAt != nil {
		in.StartsAt = req.StartsAt.UTC()
	}

	ev, err := h.catalog.CreateEvent(r.Context(), in)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid event")
			return
		}
		h.log.Error("api.events.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(ev))
}

func (h *Handler) handleEventByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	eventID := strings.TrimPrefix(r.URL.Path, "/events/")
	if eventID == "" || strings.Contains(eventID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "event not found")
		return
	}

	ctx := r.Context()
	if _, err := h.catalog.GetEvent(ctx, eventID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		h.log.Error("api.events.delete.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	// Registrations first so the count is reported even when the FK cascade
	// would have removed them anyway (in-memory mode has no FK).
	removed, err := h.ledger.DeleteAllForEvent(ctx, eventID)
	if err != nil {
		h.log.Error("api.events.cascade.fail", "event", eventID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.catalog.DeleteEvent(ctx, eventID); err != nil && !errors.Is(err, directory.ErrNotFound) {
		h.log.Error("api.events.delete.fail", "event", eventID, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, deleteEventResponse{Deleted: true, RemovedRegistrations: removed})
}

// ---- registrations ----

func (h *Handler) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listMyRegistrations(w, r)
	case http.MethodPost:
		h.createRegistration(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createRegistration(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var req createRegistrationRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	reg, err := h.ledger.Register(r.Context(), registration.RegisterInput{
		UserRef:  user.ID,
		EventRef: req.EventID,
		Metadata: req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrEventNotFound):
			writeError(w, http.StatusNotFound, "event_not_found", "event not found")
		case errors.Is(err, registration.ErrAlreadyRegistered):
			writeError(w, http.StatusBadRequest, "already_registered", "already registered for this event")
		case errors.Is(err, registration.ErrCapacityExceeded):
			writeError(w, http.StatusBadRequest, "event_full", "event is at capacity")
		case errors.Is(err, registration.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid registration")
		default:
			h.log.Error("api.registrations.create.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toRegistrationResponse(reg, true))
}

func (h *Handler) listMyRegistrations(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	regs, err := h.ledger.ListForUser(r.Context(), user.ID)
	if err != nil {
		h.log.Error("api.registrations.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := registrationListResponse{Registrations: make([]registrationResponse, 0, len(regs))}
	for _, reg := range regs {
		out.Registrations = append(out.Registrations, toRegistrationResponse(reg, true))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRegistrationByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	regID := strings.TrimPrefix(r.URL.Path, "/registrations/")
	if regID == "" || strings.Contains(regID, "/") {
		writeError(w, http.StatusNotFound, "not_found", "registration not found")
		return
	}

	err := h.ledger.Cancel(r.Context(), regID, user)
	if err != nil {
		switch {
		case errors.Is(err, registration.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", "registration not found")
		case errors.Is(err, registration.ErrNotAuthorized):
			writeError(w, http.StatusForbidden, "forbidden", "not your registration")
		case errors.Is(err, registration.ErrAlreadyAttended):
			writeError(w, http.StatusBadRequest, "already_attended", "attendance already recorded")
		default:
			h.log.Error("api.registrations.cancel.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *Handler) handleAdminRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	regs, err := h.ledger.ListAll(r.Context())
	if err != nil {
		h.log.Error("api.admin.registrations.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := registrationListResponse{Registrations: make([]registrationResponse, 0, len(regs))}
	for _, reg := range regs {
		out.Registrations = append(out.Registrations, toRegistrationResponse(reg, false))
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- scan ----

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	var req scanRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	res, err := h.scanner.Scan(r.Context(), req.Token, time.Now().UTC())
	if err != nil {
		h.log.Error("api.scan.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if res.Reason == attendance.ReasonInvalidFormat {
		writeError(w, http.StatusBadRequest, "invalid_credential", "credential is malformed")
		return
	}

	out := scanResponse{Granted: res.Granted, Reason: string(res.Reason)}
	if res.Registration != nil {
		reg := toRegistrationResponse(*res.Registration, false)
		out.Registration = &reg
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- feed ----

func (h *Handler) handleFeed(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	h.feed.ServeHTTP(w, r)
}
