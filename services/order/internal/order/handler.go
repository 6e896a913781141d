package order

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/aquamarinepk/aqm/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/enums/orderstatus"
	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

const MaxBodyBytes = 1 << 20

type Handler struct {
	logger    aqm.Logger
	config    *aqm.Config
	tlm       *telemetry.HTTP
	service   *Service
	jwtSecret string
}

type HandlerDeps struct {
	Service *Service
}

func NewHandler(hd HandlerDeps, config *aqm.Config, logger aqm.Logger) *Handler {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}

	secret, _ := config.GetString("auth.jwt.secret")

	return &Handler{
		config:    config,
		logger:    logger,
		tlm:       telemetry.NewHTTP(),
		service:   hd.Service,
		jwtSecret: secret,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/available", h.ListAvailableOrders)
		r.Get("/{id}", h.GetOrder)
		r.Put("/{id}/assign-courier", h.AssignCourier)
		r.Put("/{id}/{action}", h.TransitionOrder)
	})

	r.Route("/remittances", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/pending-orders", h.ListPendingRemittanceOrders)
		r.Post("/", h.CreateRemittance)
		r.Get("/", h.ListRemittances)
		r.Get("/{id}", h.GetRemittance)
		r.Put("/{id}/resolve", h.ResolveRemittance)
	})
}

// transitionActions maps the action path segment to its target status.
var transitionActions = map[string]string{
	"accept":            orderstatus.Statuses.Accepted.Code(),
	"refuse":            orderstatus.Statuses.Refused.Code(),
	"start-preparation": orderstatus.Statuses.Preparing.Code(),
	"mark-ready":        orderstatus.Statuses.Ready.Code(),
	"pick-up":           orderstatus.Statuses.PickedUp.Code(),
	"start-delivery":    orderstatus.Statuses.Delivering.Code(),
	"deliver":           orderstatus.Statuses.Delivered.Code(),
	"cancel":            orderstatus.Statuses.Cancelled.Code(),
}

type OrderCreateRequest struct {
	RestaurantID  uuid.UUID       `json:"restaurant_id"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	PaymentMethod string          `json:"payment_method"`
}

// TransitionRequest carries the optional fields of every transition action.
type TransitionRequest struct {
	EstimatedMinutes int    `json:"estimated_minutes,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ReasonType       string `json:"reason_type,omitempty"`
}

type AssignCourierRequest struct {
	CourierID *uuid.UUID `json:"courier_id,omitempty"`
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	req, ok := decodePayload[OrderCreateRequest](w, r, log, false)
	if !ok {
		return
	}

	o, err := h.service.CreateOrder(r.Context(), a, CreateOrderInput{
		RestaurantID:  req.RestaurantID,
		CustomerID:    req.CustomerID,
		Subtotal:      req.Subtotal,
		DeliveryFee:   req.DeliveryFee,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		h.respondServiceError(w, log, err, "Could not create order")
		return
	}

	log.Info("order created", "order_id", o.ID.String(), "number", o.Number)
	links := aqm.RESTfulLinksFor(o)
	w.WriteHeader(http.StatusCreated)
	aqm.RespondSuccess(w, o, links...)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), a, id)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not load order")
		return
	}

	links := aqm.RESTfulLinksFor(o)
	aqm.RespondSuccess(w, o, links...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	filter, err := parseOrderFilter(r)
	if err != nil {
		log.Debug("invalid order filter", "error", err)
		aqm.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.service.ListOrders(r.Context(), a, filter)
	if err != nil {
		log.Error("error retrieving orders", "error", err)
		aqm.RespondError(w, http.StatusInternalServerError, "Could not retrieve orders")
		return
	}

	aqm.RespondCollection(w, orders, "order")
}

func (h *Handler) ListAvailableOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListAvailableOrders")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, err := h.service.AvailableOrders(r.Context(), a)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not retrieve available orders")
		return
	}

	aqm.RespondCollection(w, orders, "order")
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	w, r, finish := h.tlm.Start(w, r, "Handler.TransitionOrder")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	target, known := transitionActions[action]
	if !known {
		aqm.RespondError(w, http.StatusNotFound, "Unknown action")
		return
	}

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	req, ok := decodePayload[TransitionRequest](w, r, log, true)
	if !ok {
		return
	}

	o, err := h.service.Transition(r.Context(), a, id, lifecycle.Transition{
		Target:           target,
		Reason:           req.Reason,
		ReasonType:       req.ReasonType,
		EstimatedMinutes: req.EstimatedMinutes,
	})
	if err != nil {
		h.respondServiceError(w, log, err, "Could not update order")
		return
	}

	log.Info("order transition applied", "order_id", id.String(), "action", action, "status", o.Status, "role", a.Role)
	links := aqm.RESTfulLinksFor(o)
	aqm.RespondSuccess(w, o, links...)
}

func (h *Handler) AssignCourier(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.AssignCourier")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	req, ok := decodePayload[AssignCourierRequest](w, r, log, true)
	if !ok {
		return
	}

	courierID := a.ID
	if req.CourierID != nil {
		courierID = *req.CourierID
	}

	o, err := h.service.AssignCourier(r.Context(), a, id, courierID)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not assign courier")
		return
	}

	links := aqm.RESTfulLinksFor(o)
	aqm.RespondSuccess(w, o, links...)
}

// respondServiceError maps service and domain errors onto HTTP statuses.
// Remittance refusals carry a machine readable problem body.
func (h *Handler) respondServiceError(w http.ResponseWriter, log aqm.Logger, err error, fallback string) {
	if p, ok := remittance.ProblemFrom(err); ok {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, remittance.ErrRaceLost) {
			status = http.StatusConflict
		}
		log.Info("remittance refused", "reason", p.Reason)
		aqm.Respond(w, status, p, nil)
		return
	}

	var te *lifecycle.TransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		aqm.RespondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ErrForbidden):
		aqm.RespondError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, ErrInvalidInput):
		aqm.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &te):
		log.Info("transition rejected", "from", te.From, "to", te.To, "role", te.Role, "reason", te.Reason)
		aqm.RespondError(w, http.StatusConflict, te.Error())
	case errors.Is(err, lifecycle.ErrCourierAssigned),
		errors.Is(err, ErrConflict),
		errors.Is(err, remittance.ErrAlreadyResolved):
		aqm.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Error(fallback, "error", err)
		aqm.RespondError(w, http.StatusInternalServerError, fallback)
	}
}

func parseOrderFilter(r *http.Request) (OrderFilter, error) {
	q := r.URL.Query()
	var f OrderFilter

	for _, raw := range q["status"] {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if orderstatus.ByName(s) == nil {
				return f, errors.New("Invalid status parameter")
			}
			f.Statuses = append(f.Statuses, s)
		}
	}

	var err error
	if f.RestaurantID, err = optionalUUID(q.Get("restaurant_id")); err != nil {
		return f, errors.New("Invalid restaurant_id parameter")
	}
	if f.CourierID, err = optionalUUID(q.Get("courier_id")); err != nil {
		return f, errors.New("Invalid courier_id parameter")
	}
	if f.CustomerID, err = optionalUUID(q.Get("customer_id")); err != nil {
		return f, errors.New("Invalid customer_id parameter")
	}

	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, errors.New("Invalid since parameter")
		}
		f.Since = &t
	}
	return f, nil
}

func optionalUUID(raw string) (*uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log aqm.Logger) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		log.Debug("missing id parameter")
		aqm.RespondError(w, http.StatusBadRequest, "Missing id parameter")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		log.Debug("invalid id parameter", "id", idStr)
		aqm.RespondError(w, http.StatusBadRequest, "Invalid id parameter")
		return uuid.Nil, false
	}

	return id, true
}

// decodePayload reads a JSON body into T. With allowEmpty an absent body
// yields the zero value, for actions whose fields are all optional.
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
