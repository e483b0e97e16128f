package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
)

// ClickUpTask is the body of a task creation call.
type ClickUpTask struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

type clickUpTaskResponse struct {
	ID string `json:"id"`
}

// ClickUpClient creates tasks in one ClickUp list.
type ClickUpClient struct {
	baseURL    string
	token      string
	listID     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClickUpClient creates a client from cfg.
func NewClickUpClient(cfg config.TasksConfig, logger *logging.Logger) *ClickUpClient {
	return &ClickUpClient{
		baseURL: cfg.ClickUpURL,
		token:   cfg.ClickUpToken,
		listID:  cfg.ClickUpListID,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Configured reports whether a token and list are set.
func (c *ClickUpClient) Configured() bool {
	return c.token != "" && c.listID != ""
}

// CreateTask creates task and returns its id.
func (c *ClickUpClient) CreateTask(ctx context.Context, task *ClickUpTask) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("clickup not configured")
	}

	body, err := json.Marshal(task)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/v2/list/%s/task", c.baseURL, c.listID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	// ClickUp personal tokens are sent without a scheme
	req.Header.Set("Authorization", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("ClickUp rejected task", logging.Fields{
			"status": resp.StatusCode,
			"body":   string(data),
		})
		return "", fmt.Errorf("clickup returned status %d", resp.StatusCode)
	}

	var out clickUpTaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode clickup response: %w", err)
	}

	c.logger.Info("ClickUp task created", logging.Fields{"task_id": out.ID})
	return out.ID, nil
}
