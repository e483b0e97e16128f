package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// APIError is an error response from the checkout service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// APIClient talks to the checkout service on behalf of one signed-in buyer.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

func NewAPIClient(baseURL, token string, timeout time.Duration, logger *logging.Logger) *APIClient {
	return &APIClient{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// CreateOrder submits the checkout form and cart snapshot.
func (c *APIClient) CreateOrder(ctx context.Context, req *models.CheckoutRequest) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodPost, "/api/v1/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// Dispatch asks the service to charge an order.
func (c *APIClient) Dispatch(ctx context.Context, req *models.DispatchRequest) (*models.DispatchResult, error) {
	var result models.DispatchResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/payments", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// OrderStatus reads the current status of an order.
func (c *APIClient) OrderStatus(ctx context.Context, orderID string) (models.OrderStatus, error) {
	var view models.OrderStatusView
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID)+"/status", nil, &view); err != nil {
		return "", err
	}
	return view.Status, nil
}

// GetOrder reads a full order.
func (c *APIClient) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := c.do(ctx, http.MethodGet, "/api/v1/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(logging.RequestIDHeader, requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("checkout service request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("Checkout service returned an error", logging.Fields{
			"path":       path,
			"status":     resp.StatusCode,
			"request_id": requestID,
		})
		return decodeAPIError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode checkout service response: %w", err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) *APIError {
	var body struct {
		Error   string                 `json:"error"`
		Code    string                 `json:"code"`
		Details map[string]interface{} `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return &APIError{StatusCode: status, Message: http.StatusText(status)}
	}
	return &APIError{
		StatusCode: status,
		Code:       body.Code,
		Message:    body.Error,
		Details:    body.Details,
	}
}
