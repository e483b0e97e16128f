package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

// TaskNotifier posts confirmed orders to the task webhook.
type TaskNotifier struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTaskNotifier creates a notifier from cfg.
func NewTaskNotifier(cfg config.TasksConfig, logger *logging.Logger) *TaskNotifier {
	return &TaskNotifier{
		url:   cfg.WebhookURL,
		token: cfg.InternalToken,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// NotifyOrderConfirmed sends task to the webhook. Callers are expected to
// have claimed the order's notification first.
func (c *TaskNotifier) NotifyOrderConfirmed(ctx context.Context, task *models.TaskRequest) error {
	if c.url == "" {
		return fmt.Errorf("task webhook url not configured")
	}
	if task.PaymentMethod == "" {
		task.PaymentMethod = "PIX"
	}

	c.logger.Debug("Sending order task", logging.Fields{
		"order_id": task.OrderID,
		"items":    len(task.Items),
	})

	body, err := json.Marshal(task)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Failed to send order task", logging.Fields{
			"order_id": task.OrderID,
			"error":    err.Error(),
		})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("task webhook returned status %d", resp.StatusCode)
	}

	c.logger.Info("Order task sent", logging.Fields{"order_id": task.OrderID})
	return nil
}

func (c *TaskNotifier) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := logging.RequestID(ctx); id != "" {
		req.Header.Set(logging.RequestIDHeader, id)
	}
}
