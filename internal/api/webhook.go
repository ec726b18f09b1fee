/**
 * @description
 * Handler for Veriff decision webhooks. Veriff delivers at least once, so a
 * delivery seen recently is acknowledged without being applied again. When a
 * shared secret is configured the body must carry a valid HMAC-SHA256 signature.
 *
 * @dependencies
 * - github.com/tidwall/gjson: reads the few fields needed from the loosely shaped payload.
 */
package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/harvain/satellite-service/internal/domain"
)

const (
	duplicateWindow = 5 * time.Minute
	processedTTL    = time.Hour
)

// VeriffWebhookHandler applies verification decisions posted by Veriff.
type VeriffWebhookHandler struct {
	service         AccountService
	secret          string
	logger          *slog.Logger
	now             func() time.Time
	processedEvents map[string]time.Time
	mutex           sync.Mutex
}

// NewVeriffWebhookHandler creates the webhook handler. An empty secret disables
// signature checks.
func NewVeriffWebhookHandler(service AccountService, secret string, logger *slog.Logger) *VeriffWebhookHandler {
	if secret == "" {
		logger.Warn("veriff webhook running without signature verification; set VERIFF_SHARED_SECRET")
	}
	return &VeriffWebhookHandler{
		service:         service,
		secret:          secret,
		logger:          logger,
		now:             time.Now,
		processedEvents: make(map[string]time.Time),
	}
}

type webhookResponse struct {
	Detail                 string  `json:"detail"`
	VerificationSuccessful bool    `json:"verification_successful"`
	AutoUnblocked          bool    `json:"auto_unblocked"`
	UserStatus             *string `json:"user_status"`
	Blocked                *bool   `json:"blocked"`
	CanAutoUnblock         *bool   `json:"can_auto_unblock"`
}

// ServeHTTP implements the http.Handler interface.
func (h *VeriffWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := h.logger.With("request_id", requestID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("cannot read webhook body", "error", err)
		respondWithDetail(w, http.StatusBadRequest, "Cannot read request body")
		return
	}

	if h.secret != "" && !h.isValidSignature(r, body) {
		logger.Warn("veriff webhook received with invalid signature")
		respondWithDetail(w, http.StatusForbidden, "Invalid signature")
		return
	}

	if !gjson.ValidBytes(body) {
		respondWithDetail(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	payload := gjson.ParseBytes(body)
	rawID := firstString(payload, "verification.vendorData", "userId")
	status := firstString(payload, "verification.status", "status")
	code := payload.Get("verification.code").Int()
	logger.Info("veriff webhook parsed", "vendor_data", rawID, "status", status, "code", code)

	if rawID == "" {
		respondWithDetail(w, http.StatusBadRequest, "No user identifier in webhook")
		return
	}
	satelliteID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || satelliteID <= 0 {
		respondWithDetail(w, http.StatusNotFound, "User not found")
		return
	}

	key := deliveryKey(payload, rawID, status)
	if h.isDuplicate(key) {
		logger.Info("duplicate veriff webhook ignored", "key", key)
		respondWithDetail(w, http.StatusOK, "Duplicate webhook ignored")
		return
	}

	outcome, err := domain.ParseOutcome(status)
	if err != nil {
		// Intermediate statuses (started, submitted, expired) carry no decision.
		if _, err := h.service.GetSatellite(r.Context(), satelliteID); err != nil {
			h.respondLookupError(w, logger, satelliteID, err)
			return
		}
		h.markProcessed(key)
		respondWithJSON(w, http.StatusOK, webhookResponse{Detail: "Webhook received"})
		return
	}

	res, err := h.service.HandleVerification(r.Context(), satelliteID, outcome, h.now())
	if err != nil {
		h.respondLookupError(w, logger, satelliteID, err)
		return
	}
	h.markProcessed(key)

	resp := webhookResponse{
		Detail:                 "Webhook received",
		VerificationSuccessful: res.VerificationSuccessful,
		AutoUnblocked:          res.AutoUnblocked,
	}
	if res.VerificationSuccessful {
		colour := string(res.UserStatus)
		resp.UserStatus = &colour
		resp.Blocked = res.Blocked
		resp.CanAutoUnblock = res.CanAutoUnblock
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *VeriffWebhookHandler) respondLookupError(w http.ResponseWriter, logger *slog.Logger, satelliteID int64, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		logger.Error("veriff webhook for unknown satellite", "satellite_id", satelliteID)
		respondWithDetail(w, http.StatusNotFound, "User not found")
		return
	}
	logger.Error("failed to apply veriff decision", "satellite_id", satelliteID, "error", err)
	respondWithDetail(w, http.StatusInternalServerError, "Internal server error")
}

// isValidSignature accepts a hex HMAC-SHA256 of the raw body in either header
// Veriff uses.
func (h *VeriffWebhookHandler) isValidSignature(r *http.Request, body []byte) bool {
	signature := strings.TrimSpace(r.Header.Get("X-HMAC-SIGNATURE"))
	if signature == "" {
		signature = strings.TrimSpace(r.Header.Get("X-AUTH-CLIENT"))
	}
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}

func (h *VeriffWebhookHandler) isDuplicate(key string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := h.now()
	for k, seen := range h.processedEvents {
		if now.Sub(seen) > processedTTL {
			delete(h.processedEvents, k)
		}
	}
	seen, ok := h.processedEvents[key]
	return ok && now.Sub(seen) < duplicateWindow
}

// markProcessed is called only after the decision was applied, so a failed
// delivery can be retried by Veriff.
func (h *VeriffWebhookHandler) markProcessed(key string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.processedEvents[key] = h.now()
}

func deliveryKey(payload gjson.Result, vendorData, status string) string {
	if id := payload.Get("verification.id").String(); id != "" {
		return id + ":" + status
	}
	return vendorData + ":" + status
}

func firstString(payload gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(payload.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}
