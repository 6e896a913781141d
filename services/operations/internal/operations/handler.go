package operations

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/actor"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

const MaxBodyBytes = 1 << 16

// SessionView is what the UI surface needs from the running session.
type SessionView interface {
	Actor() actor.Actor
	Status(ctx context.Context) (session.Status, error)
	Snapshot() *session.Snapshot
	Perform(ctx context.Context, id uuid.UUID, action session.Action, in session.ActionInput) (*lifecycle.Order, error)
	Acknowledge(ctx context.Context, id uuid.UUID) error
	Reconnect()
}

// AvailableLister lists ready orders without a courier.
type AvailableLister interface {
	AvailableOrders(ctx context.Context) ([]*lifecycle.Order, error)
}

type Handler struct {
	logger     aqm.Logger
	tlm        *telemetry.HTTP
	session    SessionView
	available  AvailableLister
	reconciler *Reconciler
	audit      *AuditLogger
	feed       http.Handler
	events     http.Handler
	now        func() time.Time
}

type HandlerDeps struct {
	Session    SessionView
	Available  AvailableLister
	Reconciler *Reconciler
	Audit      *AuditLogger
	// Feed serves the websocket signal feed, Events the SSE one.
	Feed   http.Handler
	Events http.Handler
}

func NewHandler(hd HandlerDeps, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	audit := hd.Audit
	if audit == nil {
		audit = NewAuditLogger(0, logger)
	}

	return &Handler{
		logger:     logger,
		tlm:        telemetry.NewHTTP(),
		session:    hd.Session,
		available:  hd.Available,
		reconciler: hd.Reconciler,
		audit:      audit,
		feed:       hd.Feed,
		events:     hd.Events,
		now:        time.Now,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/reconnect", h.Reconnect)
		r.Get("/audit", h.ListAudit)

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/overdue", h.ListOverdueOrders)
		r.Get("/orders/available", h.ListAvailableOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Post("/orders/{id}/ack", h.AcknowledgeOrder)
		r.Post("/orders/{id}/{action}", h.PerformAction)

		r.Get("/remittances/pending", h.ListPendingRemittance)
		r.Post("/remittances", h.CreateRemittance)
		r.Get("/remittances", h.ListRemittances)
		r.Get("/remittances/{id}", h.GetRemittance)

		if h.feed != nil {
			r.Get("/feed", h.feed.ServeHTTP)
		}
		if h.events != nil {
			r.Get("/events", h.events.ServeHTTP)
		}
	})
}

type RemittanceCreateRequest struct {
	OrderIDs  []uuid.UUID     `json:"order_ids"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

// SnapshotResponse is one consistent view of the session store.
type SnapshotResponse struct {
	Version uint64             `json:"version"`
	Stale   bool               `json:"stale"`
	Orders  []*lifecycle.Order `json:"orders"`
	Urgent  []uuid.UUID        `json:"urgent"`
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetStatus")
	defer finish()

	st, err := h.session.Status(r.Context())
	if err != nil {
		h.respondError(w, h.log(r), err, "Could not read session status")
		return
	}
	aqm.RespondSuccess(w, st)
}

func (h *Handler) Reconnect(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Reconnect")
	defer finish()

	h.session.Reconnect()
	h.log(r).Info("manual reconnect requested")
	aqm.Respond(w, http.StatusAccepted, map[string]string{"status": "reconnecting"}, nil)
}

func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListAudit")
	defer finish()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	aqm.RespondSuccess(w, h.audit.Recent(limit))
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	subset := session.Subset(r.URL.Query().Get("subset"))
	switch subset {
	case "":
		subset = session.SubsetAll
	case session.SubsetAll, session.SubsetPending, session.SubsetInProgress, session.SubsetCompleted:
	default:
		aqm.RespondError(w, http.StatusBadRequest, "Invalid subset parameter")
		return
	}

	snap := h.session.Snapshot()
	aqm.RespondSuccess(w, SnapshotResponse{
		Version: snap.Version,
		Stale:   snap.Stale,
		Orders:  snap.Subset(subset),
		Urgent:  snap.Urgent(),
	})
}

func (h *Handler) ListOverdueOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOverdueOrders")
	defer finish()

	aqm.RespondCollection(w, h.session.Snapshot().OverduePreparation(h.now()), "order")
}

func (h *Handler) ListAvailableOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListAvailableOrders")
	defer finish()

	if h.available == nil {
		aqm.RespondError(w, http.StatusServiceUnavailable, "Order service not configured")
		return
	}
	orders, err := h.available.AvailableOrders(r.Context())
	if err != nil {
		h.respondError(w, h.log(r), err, "Could not retrieve available orders")
		return
	}
	if orders == nil {
		orders = []*lifecycle.Order{}
	}
	aqm.RespondCollection(w, orders, "order")
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	id, ok := h.parseIDParam(w, r, h.log(r))
	if !ok {
		return
	}
	o, found := h.session.Snapshot().Get(id)
	if !found {
		aqm.RespondError(w, http.StatusNotFound, "Order not in session")
		return
	}
	aqm.RespondSuccess(w, o, aqm.RESTfulLinksFor(o)...)
}

func (h *Handler) AcknowledgeOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AcknowledgeOrder")
	defer finish()

	log := h.log(r)
	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	err := h.session.Acknowledge(r.Context(), id)
	h.audit.LogAction(r.Context(), h.session.Actor().ID, "acknowledge", id, nil, err)
	if err != nil {
		h.respondError(w, log, err, "Could not acknowledge order")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PerformAction")
	defer finish()

	log := h.log(r)
	action, known := session.ParseAction(chi.URLParam(r, "action"))
	if !known {
		aqm.RespondError(w, http.StatusNotFound, "Unknown action")
		return
	}
	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	in, ok := decodePayload[session.ActionInput](w, r, log, true)
	if !ok {
		return
	}

	o, err := h.session.Perform(r.Context(), id, action, in)
	h.audit.LogAction(r.Context(), h.session.Actor().ID, string(action), id, in, err)
	if err != nil {
		h.respondError(w, log, err, "Could not update order")
		return
	}

	log.Info("order action performed", "order_id", id.String(), "action", string(action), "status", o.Status)
	aqm.RespondSuccess(w, o, aqm.RESTfulLinksFor(o)...)
}

func (h *Handler) ListPendingRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListPendingRemittance")
	defer finish()

	if !h.requireReconciler(w) {
		return
	}
	p, err := h.reconciler.PendingOrders(r.Context())
	if err != nil {
		h.respondError(w, h.log(r), err, "Could not retrieve pending orders")
		return
	}
	aqm.RespondSuccess(w, p)
}

func (h *Handler) CreateRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateRemittance")
	defer finish()

	log := h.log(r)
	if !h.requireReconciler(w) {
		return
	}
	req, ok := decodePayload[RemittanceCreateRequest](w, r, log, false)
	if !ok {
		return
	}

	rem, err := h.reconciler.Create(r.Context(), remittance.Selection{
		OrderIDs:  req.OrderIDs,
		Method:    req.Method,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	target := uuid.Nil
	if rem != nil {
		target = rem.ID
	}
	h.audit.LogAction(r.Context(), h.session.Actor().ID, "create-remittance", target, req, err)
	if err != nil {
		h.respondError(w, log, err, "Could not create remittance")
		return
	}

	w.WriteHeader(http.StatusCreated)
	aqm.RespondSuccess(w, rem, aqm.RESTfulLinksFor(rem)...)
}

func (h *Handler) ListRemittances(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListRemittances")
	defer finish()

	if !h.requireReconciler(w) {
		return
	}
	list, err := h.reconciler.History(r.Context())
	if err != nil {
		h.respondError(w, h.log(r), err, "Could not retrieve remittances")
		return
	}
	aqm.RespondCollection(w, list, "remittance")
}

func (h *Handler) GetRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetRemittance")
	defer finish()

	log := h.log(r)
	if !h.requireReconciler(w) {
		return
	}
	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}
	rem, err := h.reconciler.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, log, err, "Could not load remittance")
		return
	}
	aqm.RespondSuccess(w, rem, aqm.RESTfulLinksFor(rem)...)
}

func (h *Handler) requireReconciler(w http.ResponseWriter) bool {
	if h.reconciler == nil {
		aqm.RespondError(w, http.StatusForbidden, "Remittances are only available to couriers")
		return false
	}
	return true
}

// respondError maps session, remittance and order service errors onto
// HTTP statuses. Remittance refusals keep their machine readable problem.
func (h *Handler) respondError(w http.ResponseWriter, log aqm.Logger, err error, fallback string) {
	if p, ok := remittance.ProblemFrom(err); ok {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, remittance.ErrRaceLost) {
			status = http.StatusConflict
		}
		log.Info("remittance refused", "reason", p.Reason)
		aqm.Respond(w, status, p, nil)
		return
	}

	var apiErr *APIError
	switch {
	case errors.Is(err, session.ErrUnknownOrder):
		aqm.RespondError(w, http.StatusNotFound, "Order not in session")
	case errors.Is(err, session.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		aqm.RespondError(w, http.StatusServiceUnavailable, "Session unavailable")
	case errors.As(err, &apiErr):
		log.Info("order service refused request", "status", apiErr.Status, "error", apiErr.Message)
		status := apiErr.Status
		if status >= http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		aqm.RespondError(w, status, apiErr.Message)
	case errors.Is(err, ErrUnavailable):
		aqm.RespondError(w, http.StatusBadGateway, "Order service unavailable")
	default:
		var te *transportError
		if errors.As(err, &te) {
			log.Error("order service unreachable", "error", err)
			aqm.RespondError(w, http.StatusBadGateway, "Order service unreachable")
			return
		}
		log.Error(fallback, "error", err)
		aqm.RespondError(w, http.StatusInternalServerError, fallback)
	}
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log aqm.Logger) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "id", idStr)
		aqm.RespondError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func decodePayload[T any](w http.ResponseWriter, r *http.Request, log aqm.Logger, allowEmpty bool) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Debug("failed to read request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Failed to read request body")
		return req, false
	}
	if len(strings.TrimSpace(string(body))) == 0 && allowEmpty {
		return req, true
	}
	if err := json.Unmarshal(body, &req); err != nil {
		log.Debug("failed to decode request body", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, "Invalid JSON in request body")
		return req, false
	}
	return req, true
}

func (h *Handler) log(r *http.Request) aqm.Logger {
	return h.logger.With("request_id", aqm.RequestIDFrom(r.Context()))
}
