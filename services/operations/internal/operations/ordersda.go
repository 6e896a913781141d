package operations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aquamarinepk/aqm"
	"github.com/google/uuid"

	"github.com/appetiteclub/delivery/pkg/lifecycle"
	"github.com/appetiteclub/delivery/pkg/remittance"
	"github.com/appetiteclub/delivery/services/operations/internal/session"
)

const defaultRequestTimeout = 10 * time.Second

// OrderFilter narrows ListOrders. The service scopes every list to the
// calling actor on its own.
type OrderFilter struct {
	Statuses []string
	Since    time.Time
}

// OrderDataAccess centralizes calls to the order service on behalf of one
// actor. Every request carries the actor credential.
type OrderDataAccess struct {
	baseURL string
	token   string
	client  *http.Client
	logger  aqm.Logger
}

func NewOrderDataAccess(baseURL, token string, client *http.Client, logger aqm.Logger) *OrderDataAccess {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	return &OrderDataAccess{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  logger.With("component", "orderda"),
	}
}

func (da *OrderDataAccess) ListOrders(ctx context.Context, f OrderFilter) ([]*lifecycle.Order, error) {
	q := url.Values{}
	if len(f.Statuses) > 0 {
		q.Set("status", strings.Join(f.Statuses, ","))
	}
	if !f.Since.IsZero() {
		q.Set("since", f.Since.UTC().Format(time.RFC3339))
	}

	path := "/orders"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var orders []*lifecycle.Order
	if err := da.request(ctx, http.MethodGet, path, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// Fetch returns every order the actor participates in, leaving out
// terminal orders last updated before since.
func (da *OrderDataAccess) Fetch(ctx context.Context, since time.Time) ([]*lifecycle.Order, error) {
	return da.ListOrders(ctx, OrderFilter{Since: since})
}

// AvailableOrders lists ready orders no courier has claimed yet.
func (da *OrderDataAccess) AvailableOrders(ctx context.Context) ([]*lifecycle.Order, error) {
	var orders []*lifecycle.Order
	if err := da.request(ctx, http.MethodGet, "/orders/available", nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (da *OrderDataAccess) GetOrder(ctx context.Context, id uuid.UUID) (*lifecycle.Order, error) {
	var o lifecycle.Order
	if err := da.request(ctx, http.MethodGet, "/orders/"+id.String(), nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Perform calls the transition endpoint of action. Retrying is safe: the
// service answers an already applied transition with the current order.
func (da *OrderDataAccess) Perform(ctx context.Context, id uuid.UUID, action session.Action, in session.ActionInput) (*lifecycle.Order, error) {
	path := fmt.Sprintf("/orders/%s/%s", id, action)
	var o lifecycle.Order
	if err := da.request(ctx, http.MethodPut, path, in, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// request sends one call and decodes the data field of the reply into dest.
// Idempotent methods are retried once on transport errors and gateway
// failures.
func (da *OrderDataAccess) request(ctx context.Context, method, path string, body, dest interface{}) error {
	if da == nil || da.baseURL == "" {
		return fmt.Errorf("order client not configured")
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet || method == http.MethodPut {
		attempts = 2
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = da.send(ctx, method, path, payload, dest)
		if err == nil || !retryable(err) || ctx.Err() != nil {
			return err
		}
		da.logger.Info("retrying order service call", "method", method, "path", path, "error", err)
	}
	return err
}

func (da *OrderDataAccess) send(ctx context.Context, method, path string, payload []byte, dest interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, da.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if da.token != "" {
		req.Header.Set("Authorization", "Bearer "+da.token)
	}

	resp, err := da.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, raw)
	}
	if dest == nil {
		return nil
	}

	return decodeData(raw, dest)
}

// decodeData reads the data member of a success envelope into dest. A
// missing or null data member leaves dest untouched.
func decodeData(raw []byte, dest interface{}) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

type transportError struct {
	err error
}

func (e *transportError) Error() string { return "order service unreachable: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrUnavailable)
}

// decodeAPIError reads either a remittance problem wrapped in data or the
// plain error message of an error reply.
func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: http.StatusText(status)}

	if status == http.StatusUnprocessableEntity || status == http.StatusConflict {
		var p remittance.Problem
		if err := decodeData(raw, &p); err == nil && p.Reason != "" {
			apiErr.Problem = &p
			apiErr.Message = p.Message
			return apiErr
		}
	}

	var body map[string]interface{}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg, ok := body["error"].(string); ok && msg != "" {
			apiErr.Message = msg
			return apiErr
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		apiErr.Message = text
	}
	return apiErr
}
