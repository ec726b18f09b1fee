/**
 * @description
 * HTTP handlers for the satellite-service. Account reads and writes go through the
 * application service; every write runs the ledger and profile pipeline there.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/harvain/satellite-service/internal/app"
	"github.com/harvain/satellite-service/internal/domain"
	"github.com/harvain/satellite-service/internal/store"
	"github.com/harvain/satellite-service/pkg/veriffclient"
)

const maxBodyBytes = 1 << 20

// AccountService is the part of app.Service the HTTP layer uses.
type AccountService interface {
	GetClient(ctx context.Context, id int64) (*domain.Client, error)
	GetSatellite(ctx context.Context, id int64) (*domain.Satellite, error)
	ListClientSatellites(ctx context.Context, clientID int64) ([]*domain.Satellite, error)
	ListHistory(ctx context.Context, clientID int64, limit int) ([]domain.HistoryEntry, error)
	LoadAccount(ctx context.Context, kind domain.AccountKind, id int64) (domain.Account, error)
	CreateClient(ctx context.Context, in app.NewClient) (*app.CreateClientResult, error)
	ApplyClientUpdate(ctx context.Context, id int64, upd app.ClientUpdate) (*domain.Client, error)
	DeleteClient(ctx context.Context, id int64) error
	CreateSatellite(ctx context.Context, sat *domain.Satellite) (*domain.Satellite, error)
	ApplySatelliteUpdate(ctx context.Context, id int64, upd app.SatelliteUpdate) (*domain.Satellite, error)
	VerificationStatus(ctx context.Context, satelliteID int64) (app.VerificationStatusView, error)
	IssueEmailVerification(ctx context.Context, satelliteID int64) (string, error)
	VerifyEmail(ctx context.Context, token string) (*domain.Satellite, error)
	HandleVerification(ctx context.Context, satelliteID int64, outcome domain.Outcome, occurredAt time.Time) (app.VerificationResult, error)
}

// SessionCreator starts identity verification sessions.
type SessionCreator interface {
	CreateSession(ctx context.Context, p veriffclient.Person, lang string) (string, error)
}

// SyncRunner runs and resets the batch profile sync.
type SyncRunner interface {
	Run(ctx context.Context, opts app.SyncOptions) (app.SyncStats, error)
	Reset(ctx context.Context) error
}

// SweepRunner runs one migration sweep on demand.
type SweepRunner interface {
	RunMigrationSweep(ctx context.Context) (app.SweepResult, error)
}

// Handler holds the collaborators the HTTP handlers interact with. sessions and
// sync may be nil when Veriff or Redis are not configured.
type Handler struct {
	service          AccountService
	sessions         SessionCreator
	sync             SyncRunner
	sweep            SweepRunner
	emailRedirectURL string
	logger           *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(service AccountService, sessions SessionCreator, sync SyncRunner, sweep SweepRunner, emailRedirectURL string, logger *slog.Logger) *Handler {
	return &Handler{
		service:          service,
		sessions:         sessions,
		sync:             sync,
		sweep:            sweep,
		emailRedirectURL: emailRedirectURL,
		logger:           logger,
	}
}

type detailResponse struct {
	Detail string `json:"detail"`
}

// newSatelliteRequest is the body of POST /satellites. Intervals are whole seconds.
type newSatelliteRequest struct {
	Username string `json:"username"`
	domain.Profile
	EmailVerified         bool                `json:"email_verified"`
	DocumentVerified      bool                `json:"document_verified"`
	Blocked               bool                `json:"blocked"`
	InvitationCode        string              `json:"invitation_code"`
	UUID                  string              `json:"uuid"`
	System                bool                `json:"system"`
	IsOriginal            bool                `json:"is_original"`
	BlockBalance          decimal.Decimal     `json:"block_balance"`
	ActiveBalance         decimal.Decimal     `json:"active_balance"`
	Withdrawal            decimal.Decimal     `json:"withdrawal"`
	Deposit               decimal.NullDecimal `json:"deposit"`
	IntervalSeconds       *int64              `json:"interval_seconds"`
	SecondIntervalSeconds *int64              `json:"second_interval_seconds"`
	ClientID              *int64              `json:"client_id"`
	Order                 int                 `json:"order"`
}

func (req newSatelliteRequest) satellite() *domain.Satellite {
	sat := &domain.Satellite{
		UUID:          req.UUID,
		System:        req.System,
		IsOriginal:    req.IsOriginal,
		BlockBalance:  req.BlockBalance,
		ActiveBalance: req.ActiveBalance,
		Withdrawal:    req.Withdrawal,
		Deposit:       req.Deposit,
		ClientID:      req.ClientID,
		Order:         req.Order,
	}
	sat.Username = req.Username
	sat.Profile = req.Profile
	sat.EmailVerified = req.EmailVerified
	sat.DocumentVerified = req.DocumentVerified
	sat.Blocked = req.Blocked
	sat.InvitationCode = req.InvitationCode
	sat.Interval = seconds(req.IntervalSeconds)
	sat.SecondInterval = seconds(req.SecondIntervalSeconds)
	return sat
}

func seconds(v *int64) *time.Duration {
	if v == nil {
		return nil
	}
	d := time.Duration(*v) * time.Second
	return &d
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	kind, ok := domain.ParseAccountKind(chi.URLParam(r, "kind"))
	if !ok {
		respondWithDetail(w, http.StatusBadRequest, "Unknown account kind")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	account, err := h.service.LoadAccount(r.Context(), kind, id)
	if err != nil {
		h.respondWithError(w, err, "load account", "kind", kind, "id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, account)
}

func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	client, err := h.service.GetClient(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "get client", "client_id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, client)
}

func (h *Handler) handleListClientSatellites(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sats, err := h.service.ListClientSatellites(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "list client satellites", "client_id", id)
		return
	}
	if sats == nil {
		sats = []*domain.Satellite{}
	}
	respondWithJSON(w, http.StatusOK, sats)
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.service.ListHistory(r.Context(), id, limit)
	if err != nil {
		h.respondWithError(w, err, "list history", "client_id", id)
		return
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var in app.NewClient
	if !decodeBody(w, r, &in) {
		return
	}
	res, err := h.service.CreateClient(r.Context(), in)
	if err != nil {
		h.respondWithError(w, err, "create client", "username", in.Username)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var upd app.ClientUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	client, err := h.service.ApplyClientUpdate(r.Context(), id, upd)
	if err != nil {
		h.respondWithError(w, err, "update client", "client_id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, client)
}

func (h *Handler) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteClient(r.Context(), id); err != nil {
		h.respondWithError(w, err, "delete client", "client_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetSatellite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sat, err := h.service.GetSatellite(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "get satellite", "satellite_id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, sat)
}

func (h *Handler) handleCreateSatellite(w http.ResponseWriter, r *http.Request) {
	var req newSatelliteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sat, err := h.service.CreateSatellite(r.Context(), req.satellite())
	if err != nil {
		h.respondWithError(w, err, "create satellite", "username", req.Username)
		return
	}
	respondWithJSON(w, http.StatusCreated, sat)
}

func (h *Handler) handleUpdateSatellite(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var upd app.SatelliteUpdate
	if !decodeBody(w, r, &upd) {
		return
	}
	sat, err := h.service.ApplySatelliteUpdate(r.Context(), id, upd)
	if err != nil {
		h.respondWithError(w, err, "update satellite", "satellite_id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, sat)
}

func (h *Handler) handleVerificationStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	view, err := h.service.VerificationStatus(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "verification status", "satellite_id", id)
		return
	}
	respondWithJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStartVerificationSession(w http.ResponseWriter, r *http.Request) {
	if h.sessions == nil {
		respondWithDetail(w, http.StatusServiceUnavailable, "Identity verification is not configured")
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sat, err := h.service.GetSatellite(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "get satellite", "satellite_id", id)
		return
	}
	if sat.DocumentVerified {
		respondWithDetail(w, http.StatusBadRequest, "Document is already verified.")
		return
	}

	person := veriffclient.Person{
		SatelliteID: sat.ID,
		FirstName:   sat.Name,
		LastName:    sat.LastName,
		PhoneNumber: sat.Phone,
		DateOfBirth: sat.Born,
		Email:       sat.Email,
		FullAddress: sat.Address,
	}
	sessionURL, err := h.sessions.CreateSession(r.Context(), person, r.URL.Query().Get("lang"))
	if err != nil {
		var missing *veriffclient.MissingFieldsError
		if errors.As(err, &missing) {
			respondWithDetail(w, http.StatusBadRequest, "Please fill in the following fields: "+strings.Join(missing.Fields, ", "))
			return
		}
		h.logger.Error("failed to create verification session", "satellite_id", id, "error", err)
		respondWithDetail(w, http.StatusBadGateway, "Failed to start verification session")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{
		"session_url": sessionURL,
		"detail":      "Verification session started successfully.",
	})
}

func (h *Handler) handleRequestEmailVerification(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	sat, err := h.service.GetSatellite(r.Context(), id)
	if err != nil {
		h.respondWithError(w, err, "get satellite", "satellite_id", id)
		return
	}
	switch {
	case strings.TrimSpace(sat.Email) == "":
		respondWithDetail(w, http.StatusBadRequest, "The email field is empty")
		return
	case sat.EmailVerified:
		respondWithDetail(w, http.StatusBadRequest, "Email is already verified.")
		return
	}

	if _, err := h.service.IssueEmailVerification(r.Context(), id); err != nil {
		h.respondWithError(w, err, "issue email verification", "satellite_id", id)
		return
	}
	respondWithDetail(w, http.StatusOK, "Verification email send")
}

// handleActivateEmail is opened from an email link, so it is a GET that writes.
// With a redirect URL configured the caller is always redirected, valid token or not.
func (h *Handler) handleActivateEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sat, err := h.service.VerifyEmail(r.Context(), token)
	if err != nil && !errors.Is(err, domain.ErrInvalidToken) && !errors.Is(err, domain.ErrNotFound) {
		h.logger.Error("failed to activate email", "error", err)
	}

	if h.emailRedirectURL != "" {
		http.Redirect(w, r, h.emailRedirectURL, http.StatusFound)
		return
	}
	if err != nil {
		h.respondWithError(w, err, "activate email")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"detail":       "Email verified",
		"satellite_id": sat.ID,
	})
}

type syncRunRequest struct {
	Force              bool `json:"force"`
	SatelliteToClient  bool `json:"satellite_to_client"`
	ClientToSatellites bool `json:"client_to_satellites"`
}

func (h *Handler) handleRunSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondWithDetail(w, http.StatusServiceUnavailable, "Startup sync requires Redis")
		return
	}
	var req syncRunRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	stats, err := h.sync.Run(r.Context(), app.SyncOptions{
		Force:              req.Force,
		SatelliteToClient:  req.SatelliteToClient,
		ClientToSatellites: req.ClientToSatellites,
	})
	if errors.Is(err, domain.ErrLockContention) {
		respondWithDetail(w, http.StatusConflict, "Sync is already running on another instance")
		return
	}
	if err != nil {
		h.respondWithError(w, err, "run startup sync")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleResetSync(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		respondWithDetail(w, http.StatusServiceUnavailable, "Startup sync requires Redis")
		return
	}
	if err := h.sync.Reset(r.Context()); err != nil {
		h.respondWithError(w, err, "reset startup sync")
		return
	}
	respondWithDetail(w, http.StatusOK, "Sync lock and version marker cleared")
}

func (h *Handler) handleRunMigrations(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweep.RunMigrationSweep(r.Context())
	if err != nil {
		h.respondWithError(w, err, "run migration sweep")
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondWithDetail(w, http.StatusBadRequest, fmt.Sprintf("Invalid id %q", raw))
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondWithDetail(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// respondWithError maps domain errors onto status codes and logs the rest.
func (h *Handler) respondWithError(w http.ResponseWriter, err error, op string, attrs ...any) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithDetail(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrConcurrentModification):
		respondWithDetail(w, http.StatusConflict, "The account was modified concurrently, please retry")
	case errors.Is(err, store.ErrDuplicateUsername):
		respondWithDetail(w, http.StatusConflict, "Username already exists")
	case errors.Is(err, domain.ErrInvalidToken):
		respondWithDetail(w, http.StatusBadRequest, "Invalid or expired token")
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrInvalidOutcome):
		respondWithDetail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", append([]any{"op", op, "error", err}, attrs...)...)
		respondWithDetail(w, http.StatusInternalServerError, "Internal server error")
	}
}

func respondWithDetail(w http.ResponseWriter, code int, detail string) {
	respondWithJSON(w, code, detailResponse{Detail: detail})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
