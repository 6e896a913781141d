package order

import (
	"net/http"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
)

type RemittanceCreateRequest struct {
	OrderIDs  []uuid.UUID     `json:"order_ids"`
	Method    string          `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
}

type RemittanceResolveRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// PendingOrdersResponse lists what a courier still owes.
type PendingOrdersResponse struct {
	Orders []*lifecycle.Order `json:"orders"`
	Total  decimal.Decimal    `json:"total"`
}

func (h *Handler) ListPendingRemittanceOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListPendingRemittanceOrders")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	orders, total, err := h.service.PendingRemittanceOrders(r.Context(), a)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not retrieve pending orders")
		return
	}
	if orders == nil {
		orders = []*lifecycle.Order{}
	}

	aqm.RespondSuccess(w, PendingOrdersResponse{Orders: orders, Total: total})
}

func (h *Handler) CreateRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateRemittance")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	req, ok := decodePayload[RemittanceCreateRequest](w, r, log, false)
	if !ok {
		return
	}

	rem, err := h.service.CreateRemittance(r.Context(), a, remittance.Selection{
		OrderIDs:  req.OrderIDs,
		Method:    req.Method,
		Amount:    req.Amount,
		Reference: req.Reference,
	})
	if err != nil {
		h.respondServiceError(w, log, err, "Could not create remittance")
		return
	}

	links := aqm.RESTfulLinksFor(rem)
	w.WriteHeader(http.StatusCreated)
	aqm.RespondSuccess(w, rem, links...)
}

func (h *Handler) ListRemittances(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListRemittances")
	defer finish()

	log := h.log(r)
	a, ok := h.actor(w, r)
	if !ok {
		return
	}

	var f RemittanceFilter
	courierID, err := optionalUUID(r.URL.Query().Get("courier_id"))
	if err != nil {
		aqm.RespondError(w, http.StatusBadRequest, "Invalid courier_id parameter")
		return
	}
	f.CourierID = courierID
	f.Status = r.URL.Query().Get("status")

	list, err := h.service.ListRemittances(r.Context(), a, f)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not retrieve remittances")
		return
	}

	aqm.RespondCollection(w, list, "remittance")
}

func (h *Handler) GetRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetRemittance")
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

	rem, err := h.service.GetRemittance(r.Context(), a, id)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not load remittance")
		return
	}

	links := aqm.RESTfulLinksFor(rem)
	aqm.RespondSuccess(w, rem, links...)
}

func (h *Handler) ResolveRemittance(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ResolveRemittance")
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

	req, ok := decodePayload[RemittanceResolveRequest](w, r, log, false)
	if !ok {
		return
	}

	rem, err := h.service.ResolveRemittance(r.Context(), a, id, req.Status, req.Note)
	if err != nil {
		h.respondServiceError(w, log, err, "Could not resolve remittance")
		return
	}

	log.Info("remittance resolved", "remittance_id", id.String(), "status", rem.Status)
	links := aqm.RESTfulLinksFor(rem)
	aqm.RespondSuccess(w, rem, links...)
}
