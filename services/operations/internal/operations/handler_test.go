package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

type testEnv struct {
	router  chi.Router
	session *MockSession
	client  *MockRemittanceClient
	audit   *AuditLogger
}

func newTestEnv(t *testing.T, withReconciler bool) *testEnv {
	t.Helper()
	env := &testEnv{
		session: NewMockSession(),
		client:  &MockRemittanceClient{},
		audit:   NewAuditLogger(10, nil),
	}
	deps := HandlerDeps{
		Session:   env.session,
		Available: &MockAvailable{},
		Audit:     env.audit,
	}
	if withReconciler {
		deps.Reconciler = NewReconciler(env.client, courierID, remittance.DefaultTolerance, nil)
	}
	h := NewHandler(deps, nil)
	h.now = func() time.Time { return t0 }

	env.router = chi.NewRouter()
	h.RegisterRoutes(env.router)
	return env
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		payload, _ = json.Marshal(b)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, w.Body.String())
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v (%s)", err, envelope.Data)
	}
}

func TestHandlerGetStatus(t *testing.T) {
	env := newTestEnv(t, false)
	env.session.Store.Upsert(pendingOrder())

	w := env.do(http.MethodGet, "/session/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st session.Status
	decodeData(t, w, &st)
	if st.Connection != session.StateConnected || st.Orders != 1 || st.ActorID != restaurantID {
		t.Errorf("status = %+v", st)
	}
}

func TestHandlerListOrders(t *testing.T) {
	env := newTestEnv(t, false)
	pending := pendingOrder()
	accepted := pendingOrder()
	accepted.Status = "accepted"
	env.session.Store.Upsert(pending)
	env.session.Store.Upsert(accepted)
	env.session.Store.SetUrgent(pending.ID, true)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantIDs    []uuid.UUID
	}{
		{name: "all", query: "", wantStatus: http.StatusOK, wantIDs: []uuid.UUID{pending.ID, accepted.ID}},
		{name: "pending", query: "?subset=pending", wantStatus: http.StatusOK, wantIDs: []uuid.UUID{pending.ID}},
		{name: "inProgress", query: "?subset=in_progress", wantStatus: http.StatusOK, wantIDs: []uuid.UUID{accepted.ID}},
		{name: "completed", query: "?subset=completed", wantStatus: http.StatusOK, wantIDs: nil},
		{name: "invalidSubset", query: "?subset=bogus", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/session/orders"+tt.query, nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp SnapshotResponse
			decodeData(t, w, &resp)
			if len(resp.Orders) != len(tt.wantIDs) {
				t.Fatalf("orders = %d, want %d", len(resp.Orders), len(tt.wantIDs))
			}
			got := map[uuid.UUID]bool{}
			for _, o := range resp.Orders {
				got[o.ID] = true
			}
			for _, id := range tt.wantIDs {
				if !got[id] {
					t.Errorf("missing order %s", id)
				}
			}
			if len(resp.Urgent) != 1 || resp.Urgent[0] != pending.ID {
				t.Errorf("urgent = %v", resp.Urgent)
			}
		})
	}
}

func TestHandlerGetOrder(t *testing.T) {
	env := newTestEnv(t, false)
	o := pendingOrder()
	env.session.Store.Upsert(o)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "found", path: "/session/orders/" + o.ID.String(), wantStatus: http.StatusOK},
		{name: "notInSession", path: "/session/orders/" + uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "invalidID", path: "/session/orders/nope", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(http.MethodGet, tt.path, nil); w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandlerPerformAction(t *testing.T) {
	o := pendingOrder()

	tests := []struct {
		name       string
		action     string
		body       interface{}
		performErr error
		wantStatus int
		wantAudit  bool
	}{
		{name: "accept", action: "accept", body: map[string]int{"estimated_minutes": 20}, wantStatus: http.StatusOK, wantAudit: true},
		{name: "emptyBody", action: "mark-ready", wantStatus: http.StatusOK, wantAudit: true},
		{name: "unknownAction", action: "teleport", wantStatus: http.StatusNotFound},
		{name: "invalidJSON", action: "accept", body: "{", wantStatus: http.StatusBadRequest},
		{
			name:       "transitionRejected",
			action:     "pick-up",
			performErr: &APIError{Status: http.StatusConflict, Message: "invalid transition from pending to picked_up"},
			wantStatus: http.StatusConflict,
			wantAudit:  true,
		},
		{
			name:       "serviceDown",
			action:     "accept",
			performErr: &transportError{err: errors.New("connection refused")},
			wantStatus: http.StatusBadGateway,
			wantAudit:  true,
		},
		{
			name:       "upstreamFailure",
			action:     "accept",
			performErr: &APIError{Status: http.StatusInternalServerError, Message: "boom"},
			wantStatus: http.StatusBadGateway,
			wantAudit:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			var gotAction session.Action
			var gotInput session.ActionInput
			env.session.PerformFunc = func(ctx context.Context, id uuid.UUID, action session.Action, in session.ActionInput) (*lifecycle.Order, error) {
				gotAction, gotInput = action, in
				if tt.performErr != nil {
					return nil, tt.performErr
				}
				next := o.Clone()
				next.Status = "accepted"
				return next, nil
			}

			w := env.do(http.MethodPost, "/session/orders/"+o.ID.String()+"/"+tt.action, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusOK && string(gotAction) != tt.action {
				t.Errorf("action = %s, want %s", gotAction, tt.action)
			}
			if tt.name == "accept" && gotInput.EstimatedMinutes != 20 {
				t.Errorf("input = %+v", gotInput)
			}
			if audited := len(env.audit.Recent(0)) == 1; audited != tt.wantAudit {
				t.Errorf("audited = %v, want %v", audited, tt.wantAudit)
			}
		})
	}
}

func TestHandlerAcknowledgeOrder(t *testing.T) {
	env := newTestEnv(t, false)
	o := pendingOrder()
	env.session.Store.Upsert(o)

	if w := env.do(http.MethodPost, "/session/orders/"+o.ID.String()+"/ack", nil); w.Code != http.StatusNoContent {
		t.Errorf("known order status = %d", w.Code)
	}
	if w := env.do(http.MethodPost, "/session/orders/"+uuid.NewString()+"/ack", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown order status = %d", w.Code)
	}

	entries := env.audit.Recent(0)
	if len(entries) != 2 || entries[0].Success || !entries[1].Success {
		t.Errorf("audit = %+v", entries)
	}
}

func TestHandlerReconnect(t *testing.T) {
	env := newTestEnv(t, false)
	if w := env.do(http.MethodPost, "/session/reconnect", nil); w.Code != http.StatusAccepted {
		t.Errorf("status = %d", w.Code)
	}
	if env.session.Reconnects != 1 {
		t.Errorf("reconnects = %d", env.session.Reconnects)
	}
}

func TestHandlerListOverdueOrders(t *testing.T) {
	env := newTestEnv(t, false)
	late := pendingOrder()
	late.Status = "preparing"
	late.EstimatedPrepMinutes = 10
	accepted := t0.Add(-30 * time.Minute)
	late.AcceptedAt = &accepted
	env.session.Store.Upsert(late)
	env.session.Store.Upsert(pendingOrder())

	w := env.do(http.MethodGet, "/session/orders/overdue", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var orders []*lifecycle.Order
	decodeData(t, w, &orders)
	if len(orders) != 1 || orders[0].ID != late.ID {
		t.Errorf("overdue = %+v", orders)
	}
}

func TestHandlerRemittances(t *testing.T) {
	a := deliveredCash(80)

	t.Run("forbiddenWithoutReconciler", func(t *testing.T) {
		env := newTestEnv(t, false)
		if w := env.do(http.MethodGet, "/session/remittances/pending", nil); w.Code != http.StatusForbidden {
			t.Errorf("status = %d", w.Code)
		}
	})

	t.Run("pending", func(t *testing.T) {
		env := newTestEnv(t, true)
		env.client.PendingFunc = func(ctx context.Context) (PendingOrders, error) {
			return PendingOrders{Orders: []*lifecycle.Order{a}, Total: a.Total}, nil
		}
		w := env.do(http.MethodGet, "/session/remittances/pending", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var p PendingOrders
		decodeData(t, w, &p)
		if len(p.Orders) != 1 || !p.Total.Equal(decimal.NewFromInt(80)) {
			t.Errorf("pending = %+v", p)
		}
	})

	tests := []struct {
		name       string
		body       interface{}
		createErr  error
		wantStatus int
		wantReason string
	}{
		{
			name:       "created",
			body:       RemittanceCreateRequest{OrderIDs: []uuid.UUID{a.ID}, Method: remittance.MethodInPerson, Amount: decimal.NewFromInt(80)},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "amountMismatch",
			body:       RemittanceCreateRequest{OrderIDs: []uuid.UUID{a.ID}, Method: remittance.MethodInPerson, Amount: decimal.NewFromInt(70)},
			wantStatus: http.StatusUnprocessableEntity,
			wantReason: remittance.ReasonAmountMismatch,
		},
		{
			name:       "raceLost",
			body:       RemittanceCreateRequest{OrderIDs: []uuid.UUID{a.ID}, Method: remittance.MethodInPerson, Amount: decimal.NewFromInt(80)},
			createErr:  &APIError{Status: http.StatusConflict, Problem: &remittance.Problem{Reason: remittance.ReasonRaceLost}},
			wantStatus: http.StatusConflict,
			wantReason: remittance.ReasonRaceLost,
		},
		{
			name:       "missingBody",
			body:       nil,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, true)
			env.client.PendingFunc = func(ctx context.Context) (PendingOrders, error) {
				return PendingOrders{Orders: []*lifecycle.Order{a}, Total: a.Total}, nil
			}
			if tt.createErr != nil {
				env.client.CreateFunc = func(ctx context.Context, req CreateRemittanceRequest) (*remittance.Remittance, error) {
					return nil, tt.createErr
				}
			}

			w := env.do(http.MethodPost, "/session/remittances", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantReason != "" {
				var p remittance.Problem
				decodeData(t, w, &p)
				if p.Reason != tt.wantReason || p.Message == "" {
					t.Errorf("problem = %+v", p)
				}
			}
		})
	}
}
