// Package httpapi exposes the application services over a JSON REST API.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	app "github.com/merryworks/magicledger/internal/app"
	"github.com/merryworks/magicledger/internal/app/domain/child"
	"github.com/merryworks/magicledger/internal/app/domain/ledger"
	"github.com/merryworks/magicledger/internal/app/domain/parent"
	"github.com/merryworks/magicledger/internal/app/metrics"
	"github.com/merryworks/magicledger/internal/app/services/payments"
)

// Config tunes the HTTP surface.
type Config struct {
	// AdminTokens are static bearer tokens granting admin access.
	AdminTokens []string
	// DonationRatePerSecond throttles the public donate endpoint per IP.
	// Zero defaults to 1 request per second with a burst of 5.
	DonationRatePerSecond float64
	DonationBurst         int
	// AuditFile, when set, mirrors audit entries to a JSONL file.
	AuditFile string
	// AuditSize bounds the in-memory audit ring. Zero defaults to 200.
	AuditSize int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app       *app.Application
	audit     *auditLog
	donations *rateLimiter
}

// NewHandler returns the fully wrapped REST API handler.
func NewHandler(application *app.Application, cfg Config) (http.Handler, error) {
	sink, err := newFileAuditSink(cfg.AuditFile)
	if err != nil {
		return nil, err
	}
	rps := cfg.DonationRatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.DonationBurst
	if burst <= 0 {
		burst = 5
	}

	h := &handler{
		app:       application,
		audit:     newAuditLog(cfg.AuditSize, sink),
		donations: newRateLimiter(rps, burst),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/parents", h.parents)
	mux.HandleFunc("/parents/", h.parentResources)
	mux.HandleFunc("/login", h.login)
	mux.HandleFunc("/gifts", h.gifts)
	mux.HandleFunc("/gifts/", h.giftResource)
	mux.HandleFunc("/share/", h.share)
	mux.HandleFunc("/payments/webhook", h.paymentWebhook)
	mux.HandleFunc("/audit", h.auditEntries)

	var wrapped http.Handler = mux
	wrapped = wrapWithAuth(wrapped, cfg.AdminTokens, application.Auth)
	wrapped = wrapWithAudit(wrapped, h.audit)
	wrapped = wrapWithCORS(wrapped)
	wrapped = metrics.InstrumentHandler(wrapped)
	return wrapped, nil
}

// canAct reports whether the caller may act on the parent aggregate.
func canAct(r *http.Request, parentID string) bool {
	return isAdmin(r.Context()) || parentFromContext(r.Context()) == parentID
}

func (h *handler) parents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, err := h.app.Parents.Register(r.Context(), payload.Email, payload.Name, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, token, err := h.app.Parents.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"parent": p, "token": token})
}

func (h *handler) parentResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/parents"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parentID := parts[0]

	if !canAct(r, parentID) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p, err := h.app.Parents.Get(r.Context(), parentID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
		return
	}

	switch parts[1] {
	case "wallet":
		h.parentWallet(w, r, parentID, parts[2:])
	case "children":
		h.parentChildren(w, r, parentID, parts[2:])
	case "orders":
		h.parentOrders(w, r, parentID, parts[2:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) parentWallet(w http.ResponseWriter, r *http.Request, parentID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		balance, err := h.app.Parents.RecomputeBalance(r.Context(), parentID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		entries, err := h.app.Parents.Ledger(r.Context(), parentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"balance_cents": balance, "entries": entries})
		return
	}

	switch rest[0] {
	case "topups":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			AmountCents   int64  `json:"amount_cents"`
			CorrelationID string `json:"correlation_id"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := h.app.Parents.TopUp(r.Context(), parentID, payload.AmountCents, payload.CorrelationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		metrics.RecordTopUp()
		writeJSON(w, http.StatusCreated, entry)

	case "refunds":
		if !isAdmin(r.Context()) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			AmountCents int64 `json:"amount_cents"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := h.app.Parents.Refund(r.Context(), parentID, payload.AmountCents)
		if err != nil {
			h.writeDomainError(w, r, parentID, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) parentChildren(w http.ResponseWriter, r *http.Request, parentID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPost:
			var payload struct {
				DisplayName string `json:"display_name"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			c, err := h.app.Children.Create(r.Context(), parentID, payload.DisplayName)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusCreated, c)

		case http.MethodGet:
			children, err := h.app.Children.List(r.Context(), parentID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, children)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	childID := rest[0]
	c, err := h.app.Children.Get(r.Context(), childID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if c.ParentID != parentID {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, c)
		case http.MethodPatch:
			var payload struct {
				DisplayName string `json:"display_name"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			updated, err := h.app.Children.Rename(r.Context(), childID, payload.DisplayName)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, updated)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch rest[1] {
	case "votes":
		h.childVotes(w, r, parentID, childID, rest[2:])
	case "donations":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entries, err := h.app.Children.Donations(r.Context(), childID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) childVotes(w http.ResponseWriter, r *http.Request, parentID, childID string, rest []string) {
	if len(rest) > 0 && rest[0] == "today" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		status, err := h.app.Votes.TodayStatus(r.Context(), parentID, childID)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var payload struct {
		Points int `json:"points"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Votes.Cast(r.Context(), parentID, childID, payload.Points)
	if err != nil {
		h.writeDomainError(w, r, parentID, err)
		return
	}
	metrics.RecordVote()
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) parentOrders(w http.ResponseWriter, r *http.Request, parentID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodPost:
			var payload struct {
				ChildID string `json:"child_id"`
				GiftID  string `json:"gift_id"`
			}
			if err := decodeJSON(r.Body, &payload); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			order, err := h.app.Gifts.Request(r.Context(), parentID, payload.ChildID, payload.GiftID)
			if err != nil {
				h.writeDomainError(w, r, parentID, err)
				return
			}
			writeJSON(w, http.StatusCreated, order)

		case http.MethodGet:
			orders, err := h.app.Gifts.Orders(r.Context(), parentID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err)
				return
			}
			writeJSON(w, http.StatusOK, orders)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	orderID := rest[0]
	if len(rest) != 2 || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch rest[1] {
	case "finalize":
		order, err := h.app.Gifts.Finalize(r.Context(), parentID, orderID)
		if err != nil {
			h.writeDomainError(w, r, parentID, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	case "ship":
		order, err := h.app.Gifts.Ship(r.Context(), parentID, orderID)
		if err != nil {
			h.writeDomainError(w, r, parentID, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) gifts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := !isAdmin(r.Context())
		catalog, err := h.app.Gifts.Catalog(r.Context(), activeOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, catalog)

	case http.MethodPost:
		if !isAdmin(r.Context()) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var payload struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			PriceCents  int64  `json:"price_cents"`
			PricePoints int    `json:"price_points"`
			ImageURL    string `json:"image_url"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		g, err := h.app.Gifts.CreateGift(r.Context(), payload.Name, payload.Description, payload.PriceCents, payload.PricePoints, payload.ImageURL)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) giftResource(w http.ResponseWriter, r *http.Request) {
	giftID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/gifts"), "/")
	if giftID == "" || strings.Contains(giftID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPatch {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isAdmin(r.Context()) {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var payload struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		PriceCents  *int64  `json:"price_cents"`
		PricePoints *int    `json:"price_points"`
		Active      *bool   `json:"active"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, err := h.app.Gifts.UpdateGift(r.Context(), giftID, payload.Name, payload.Description, payload.PriceCents, payload.PricePoints, payload.Active)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) || isNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) share(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/share"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	slug := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		view, err := h.app.Children.PublicBySlug(r.Context(), slug)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if parts[1] != "donate" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if !h.donations.allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many donation attempts"))
		return
	}

	var payload struct {
		AmountCents   int64  `json:"amount_cents"`
		CorrelationID string `json:"correlation_id"`
		FromName      string `json:"from_name"`
		FromEmail     string `json:"from_email"`
		Message       string `json:"message"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	entry, err := h.app.Children.Donate(r.Context(), slug, payload.AmountCents, payload.CorrelationID, payload.FromName, payload.FromEmail, payload.Message)
	if err != nil {
		status := http.StatusBadRequest
		if isNotFound(err) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	metrics.RecordDonation()
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	entry, err := h.app.Payments.HandleWebhook(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrDuplicateDelivery):
			// Acknowledge retries so the provider stops resending.
			writeJSON(w, http.StatusOK, map[string]string{"status": "already processed"})
		case errors.Is(err, payments.ErrUnknownCorrelation):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, payments.ErrConflictingOutcome):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, payments.ErrInvalidPayload):
			writeError(w, http.StatusBadRequest, err)
		default:
			// Store failures get a retryable status so the provider redelivers.
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	metrics.RecordConfirmation(entry.Status == ledger.StatusSucceeded)
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isAdmin(r.Context()) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// writeDomainError maps domain sentinels to their HTTP statuses. An
// insufficient balance reports the available amount alongside the error so
// clients can prompt for the right top-up.
func (h *handler) writeDomainError(w http.ResponseWriter, r *http.Request, parentID string, err error) {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		available, balErr := h.app.Parents.RecomputeBalance(r.Context(), parentID)
		body := map[string]any{"error": err.Error()}
		if balErr == nil {
			body["available_cents"] = available
		}
		writeJSON(w, http.StatusPaymentRequired, body)
	case errors.Is(err, child.ErrInsufficientScore):
		writeError(w, http.StatusPaymentRequired, err)
	case errors.Is(err, parent.ErrAlreadyVoted):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, sql.ErrNoRows), isNotFound(err):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusBadRequest, err)
	}
}

// isNotFound matches the storage layer's lookup failures.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not found")
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
