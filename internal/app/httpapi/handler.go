// Package httpapi exposes the engine over REST. Mutating endpoints act on
// behalf of the authenticated caller; views are open.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	app "github.com/openremit/remit_engine/internal/app"
	"github.com/openremit/remit_engine/internal/app/domain/beneficiary"
	"github.com/openremit/remit_engine/internal/app/domain/remit"
	"github.com/openremit/remit_engine/internal/app/events"
	"github.com/openremit/remit_engine/internal/app/metrics"
	"github.com/openremit/remit_engine/internal/app/services/beneficiaries"
	"github.com/openremit/remit_engine/internal/app/storage"
	"github.com/openremit/remit_engine/pkg/logger"
)

// Options configures the HTTP surface.
type Options struct {
	// JWTSecret enables bearer-token authentication. Empty falls back to the
	// X-Caller-Address header, which is only acceptable behind a trusted
	// gateway.
	JWTSecret string
	// RateLimit is requests per second per handler; zero disables limiting.
	RateLimit float64
	RateBurst int
	// Buffer serves GET /events when set.
	Buffer *events.Buffer
	// Hub serves GET /events/ws when set.
	Hub *events.Hub
	// AuditFile appends the audit trail as JSONL when set.
	AuditFile string
}

type handler struct {
	app   *app.Application
	audit *auditLog
	opts  Options
	log   *logger.Logger
}

// NewHandler returns the engine's REST router.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) (http.Handler, error) {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	var sink auditSink
	if opts.AuditFile != "" {
		fs, err := newFileAuditSink(opts.AuditFile)
		if err != nil {
			return nil, err
		}
		sink = fs
	}
	h := &handler{app: application, audit: newAuditLog(0, sink), opts: opts, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/accounts", h.register).Methods(http.MethodPost)
	r.HandleFunc("/accounts", h.listAccounts).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}", h.profile).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/balances/{token}", h.balance).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/beneficiaries", h.listBeneficiaries).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/beneficiaries/{index}", h.getBeneficiary).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/beneficiaries/{index}/next", h.estimateNext).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/pending", h.pending).Methods(http.MethodGet)
	r.HandleFunc("/accounts/{address}/limits", h.limits).Methods(http.MethodGet)

	r.HandleFunc("/balances/deposits", h.deposit).Methods(http.MethodPost)
	r.HandleFunc("/balances/withdrawals", h.withdraw).Methods(http.MethodPost)

	r.HandleFunc("/payments", h.sendPayment).Methods(http.MethodPost)
	r.HandleFunc("/payments/{id}", h.getPayment).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	r.HandleFunc("/beneficiaries", h.addBeneficiary).Methods(http.MethodPost)
	r.HandleFunc("/beneficiaries/{index}", h.updateBeneficiary).Methods(http.MethodPut)
	r.HandleFunc("/beneficiaries/{index}", h.removeBeneficiary).Methods(http.MethodDelete)

	r.HandleFunc("/executions", h.execute).Methods(http.MethodPost)
	r.HandleFunc("/executions/batch", h.executeBatch).Methods(http.MethodPost)

	r.HandleFunc("/tokens/{token}", h.tokenSupported).Methods(http.MethodGet)

	r.HandleFunc("/admin/tokens", h.setTokenSupport).Methods(http.MethodPost)
	r.HandleFunc("/admin/limits", h.setDailyLimit).Methods(http.MethodPost)
	r.HandleFunc("/admin/fee", h.setFee).Methods(http.MethodPost)
	r.HandleFunc("/admin/treasury", h.setTreasury).Methods(http.MethodPost)
	r.HandleFunc("/admin/pause", h.pause).Methods(http.MethodPost)
	r.HandleFunc("/admin/unpause", h.unpause).Methods(http.MethodPost)
	r.HandleFunc("/admin/emergency-withdrawals", h.emergencyWithdraw).Methods(http.MethodPost)

	r.HandleFunc("/audit", h.auditEntries).Methods(http.MethodGet)
	if opts.Buffer != nil {
		r.HandleFunc("/events", h.recentEvents).Methods(http.MethodGet)
	}
	if opts.Hub != nil {
		r.Handle("/events/ws", opts.Hub).Methods(http.MethodGet)
	}

	var wrapped http.Handler = r
	wrapped = h.auditMiddleware(wrapped)
	wrapped = h.authMiddleware(wrapped)
	if opts.RateLimit > 0 {
		wrapped = h.rateLimitMiddleware(wrapped)
	}
	wrapped = metrics.InstrumentHandler(wrapped)
	return wrapped, nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- accounts ---------------------------------------------------------------

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name    string `json:"name"`
		Country string `json:"country"`
		Phone   string `json:"phone"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Registry.Register(r.Context(), callerFrom(r), payload.Name, payload.Country, payload.Phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (h *handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.app.Registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, accts)
}

func (h *handler) profile(w http.ResponseWriter, r *http.Request) {
	acct, err := h.app.Registry.Profile(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) balance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	amount, err := h.app.Ledger.Balance(r.Context(), vars["address"], vars["token"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": vars["address"],
		"token":   vars["token"],
		"balance": amount,
	})
}

// --- ledger -----------------------------------------------------------------

func (h *handler) deposit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Ledger.Deposit(r.Context(), callerFrom(r), payload.Token, payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	acct, err := h.app.Ledger.Withdraw(r.Context(), callerFrom(r), payload.Token, payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// --- payments ---------------------------------------------------------------

func (h *handler) sendPayment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Recipient string `json:"recipient"`
		Token     string `json:"token"`
		Amount    uint64 `json:"amount"`
		Note      string `json:"note"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Payments.Send(r.Context(), callerFrom(r), payload.Recipient, payload.Token, payload.Amount, payload.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := h.app.Payments.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.Payments.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// --- beneficiaries ----------------------------------------------------------

func (h *handler) addBeneficiary(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address      string `json:"address"`
		Name         string `json:"name"`
		Relationship string `json:"relationship"`
		Amount       uint64 `json:"amount"`
		Token        string `json:"token"`
		Frequency    uint32 `json:"frequency"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Beneficiaries.Add(r.Context(), callerFrom(r), payload.Address, payload.Name,
		payload.Relationship, payload.Amount, payload.Token, beneficiary.Frequency(payload.Frequency))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handler) updateBeneficiary(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var payload struct {
		Amount    uint64 `json:"amount"`
		Frequency uint32 `json:"frequency"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Beneficiaries.Update(r.Context(), callerFrom(r), index, payload.Amount, beneficiary.Frequency(payload.Frequency))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) removeBeneficiary(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Beneficiaries.Remove(r.Context(), callerFrom(r), index); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listBeneficiaries(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Beneficiaries.List(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getBeneficiary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.ParseUint(vars["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Beneficiaries.Get(r.Context(), vars["address"], index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) estimateNext(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.ParseUint(vars["index"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	next, err := h.app.Beneficiaries.EstimateNext(r.Context(), vars["address"], index)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"next_execution": next})
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	indices, err := h.app.Beneficiaries.Pending(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"pending": indices})
}

// --- executions -------------------------------------------------------------

func (h *handler) execute(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Owner string `json:"owner"`
		Index uint64 `json:"index"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Beneficiaries.Execute(r.Context(), payload.Owner, payload.Index); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"executed": true})
}

func (h *handler) executeBatch(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Targets []struct {
			Owner string `json:"owner"`
			Index uint64 `json:"index"`
		} `json:"targets"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	targets := make([]beneficiaries.Target, len(payload.Targets))
	for i, t := range payload.Targets {
		targets[i] = beneficiaries.Target{Owner: t.Owner, Index: t.Index}
	}
	results, err := h.app.Beneficiaries.ExecuteBatch(r.Context(), targets)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]bool{"results": results})
}

// --- limits and tokens ------------------------------------------------------

func (h *handler) limits(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	limit, err := h.app.Limits.Limit(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	spent, err := h.app.Limits.SpentToday(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"limit": limit, "spent_today": spent})
}

func (h *handler) tokenSupported(w http.ResponseWriter, r *http.Request) {
	tok := mux.Vars(r)["token"]
	supported, err := h.app.Admin.TokenSupported(r.Context(), tok)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "supported": supported})
}

// --- admin ------------------------------------------------------------------

func (h *handler) setTokenSupport(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token     string `json:"token"`
		Supported bool   `json:"supported"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Admin.SetTokenSupport(r.Context(), callerFrom(r), payload.Token, payload.Supported); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setDailyLimit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Address string `json:"address"`
		Limit   uint64 `json:"limit"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Admin.SetDailyLimit(r.Context(), callerFrom(r), payload.Address, payload.Limit); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setFee(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FeeBps uint32 `json:"fee_bps"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Fees.SetRate(r.Context(), callerFrom(r), payload.FeeBps); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setTreasury(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Treasury string `json:"treasury"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Admin.SetTreasury(r.Context(), callerFrom(r), payload.Treasury); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Admin.Pause(r.Context(), callerFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) unpause(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Admin.Unpause(r.Context(), callerFrom(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) emergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Token  string `json:"token"`
		Amount uint64 `json:"amount"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.app.Admin.EmergencyWithdraw(r.Context(), callerFrom(r), payload.Token, payload.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- observability ----------------------------------------------------------

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.opts.Buffer.Recent(limit))
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		limit = parsed
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(limit))
}

// --- helpers ----------------------------------------------------------------

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": err.Error(),
		"code":  remit.Code(err),
	})
}

// writeDomainError maps the protocol error set to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, remit.ErrBeneficiaryNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, remit.ErrUnauthorized),
		errors.Is(err, remit.ErrNotRegistered):
		return http.StatusForbidden
	case errors.Is(err, remit.ErrContractPaused),
		errors.Is(err, remit.ErrUserAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, remit.ErrExceedsLimit),
		errors.Is(err, remit.ErrInsufficientBalance),
		errors.Is(err, remit.ErrFrequencyNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, remit.ErrTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, remit.ErrInvalidConfiguration),
		errors.Is(err, remit.ErrInvalidAmount),
		errors.Is(err, remit.ErrInvalidRecipients),
		errors.Is(err, remit.ErrInvalidFrequency),
		errors.Is(err, remit.ErrNotSupportedToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
