// File: internal/notification/client.go
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/metrics"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// Operation names used for classification, logs and metrics
const (
	OpList        = "list"
	OpCount       = "unacknowledged_count"
	OpAcknowledge = "acknowledge"
	OpDelete      = "delete"
	OpHealth      = "health"
)

const maxResponseBody = 4 << 20

// TokenSource returns the current bearer token, or "" when there is none
type TokenSource func() string

// StaticToken returns a TokenSource for a fixed token
func StaticToken(token string) TokenSource {
	return func() string { return token }
}

// Client performs authenticated REST calls against the notifications API
type Client struct {
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
	token         TokenSource
	logger        *RequestLogger
	metrics       *metrics.PrometheusMetrics
}

// NewClient creates a REST client for the configured backend
func NewClient(cfg *config.BackendConfig, token TokenSource, m *metrics.PrometheusMetrics) *Client {
	if token == nil {
		token = StaticToken("")
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		healthTimeout: healthTimeout,
		token:         token,
		logger:        NewRequestLogger().WithField("backend", cfg.APIURL),
		metrics:       m,
	}
}

// BaseURL returns the REST base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListNotifications fetches one page of notifications
func (c *Client) ListNotifications(ctx context.Context, params models.ListParams) (*models.NotificationsResponse, error) {
	query := url.Values{}
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.Acknowledged != nil {
		query.Set("acknowledged", strconv.FormatBool(*params.Acknowledged))
	}
	if params.Severity != "" {
		query.Set("severity", string(params.Severity))
	}
	if params.StartDate != "" {
		query.Set("startDate", params.StartDate)
	}
	if params.EndDate != "" {
		query.Set("endDate", params.EndDate)
	}

	var resp models.NotificationsResponse
	if err := c.do(ctx, OpList, http.MethodGet, "/notifications", query, &resp); err != nil {
		return nil, err
	}
	if resp.Notifications == nil {
		resp.Notifications = []models.Notification{}
	}
	return &resp, nil
}

// GetUnacknowledgedCount fetches the unacknowledged notification count
func (c *Client) GetUnacknowledgedCount(ctx context.Context) (int, error) {
	var resp models.CountResponse
	if err := c.do(ctx, OpCount, http.MethodGet, "/notifications/unacknowledged", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// AcknowledgeNotification marks a notification acknowledged and returns the updated record, if sent
func (c *Client) AcknowledgeNotification(ctx context.Context, id string) (*models.Notification, error) {
	if id == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Notification id is required")
	}

	var resp models.AcknowledgeResponse
	path := "/notifications/" + url.PathEscape(id) + "/acknowledge"
	if err := c.do(ctx, OpAcknowledge, http.MethodPatch, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Notification, nil
}

// DeleteNotification removes a notification; the backend enforces admin access
func (c *Client) DeleteNotification(ctx context.Context, id string) (*models.DeleteResponse, error) {
	if id == "" {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Notification id is required")
	}

	var resp models.DeleteResponse
	if err := c.do(ctx, OpDelete, http.MethodDelete, "/notifications/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthCheck probes <api_url>/health under the health timeout
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	start := time.Now()
	err := c.do(ctx, OpHealth, http.MethodGet, "/health", nil, nil)
	c.logger.LogHealthCheck(c.baseURL+"/health", err == nil, time.Since(start), err)
	return err
}

// do performs one request and decodes a 2xx body into out
func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, out interface{}) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create backend request", err.Error())
	}
	requestID := c.setRequestHeaders(req)
	c.logger.LogRequestAttempt(operation, method, reqURL, requestID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		duration := time.Since(start)
		if ctxErr := ctx.Err(); ctxErr != nil && operation != OpHealth {
			c.metrics.RecordAPIRequest(operation, "canceled", duration)
			return ctxErr
		}
		appErr := utils.NewAppError(utils.ErrCodeNetwork,
			fmt.Sprintf("Cannot connect to backend at %s. Is the server running?", c.baseURL), err.Error())
		c.metrics.RecordAPIRequest(operation, "network_error", duration)
		c.logger.LogRequestResult(operation, 0, duration, appErr)
		return appErr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	duration := time.Since(start)
	c.metrics.RecordAPIRequest(operation, strconv.Itoa(resp.StatusCode), duration)
	if err != nil {
		appErr := utils.NewAppError(utils.ErrCodeNetwork, "Failed to read backend response", err.Error())
		c.logger.LogRequestResult(operation, resp.StatusCode, duration, appErr)
		return appErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		appErr := classifyResponse(operation, resp.StatusCode, body)
		c.logger.LogRequestResult(operation, resp.StatusCode, duration, appErr)
		return appErr
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			appErr := utils.NewAppError(utils.ErrCodeRequest, "Invalid response from backend", err.Error()).
				WithStatus(resp.StatusCode)
			c.logger.LogRequestResult(operation, resp.StatusCode, duration, appErr)
			return appErr
		}
	}

	c.logger.LogRequestResult(operation, resp.StatusCode, duration, nil)
	return nil
}

// setRequestHeaders sets HTTP request headers and returns the request id
func (c *Client) setRequestHeaders(req *http.Request) string {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Mine-Alert-Notifier/1.0")

	// Add request ID for tracing
	requestID := utils.GenerateID()
	req.Header.Set("X-Request-ID", requestID)

	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return requestID
}

// classifyResponse maps a non-2xx response onto the failure taxonomy
func classifyResponse(operation string, status int, body []byte) *utils.AppError {
	detail := ""
	var errBody models.ErrorResponse
	if len(body) > 0 && json.Unmarshal(body, &errBody) == nil {
		detail = errBody.Detail()
	}
	statusText := http.StatusText(status)
	if statusText == "" {
		statusText = "Unknown Status"
	}
	statusDetail := fmt.Sprintf("status %d", status)

	switch {
	case status == http.StatusUnauthorized:
		message := "Authentication required"
		if operation == OpList {
			message = "Authentication required. Please log in again."
		}
		return utils.NewAppError(utils.ErrCodeAuthRequired, message, statusDetail).WithStatus(status)

	case status == http.StatusForbidden:
		message := firstNonEmpty(detail, "Insufficient privilege")
		if operation == OpDelete {
			message = "Admin access required"
		}
		return utils.NewAppError(utils.ErrCodeForbidden, message, statusDetail).WithStatus(status)

	case status == http.StatusNotFound:
		message := firstNonEmpty(detail, "Notification not found")
		if operation == OpList {
			message = "Notifications endpoint not found. Check backend URL configuration."
		}
		return utils.NewAppError(utils.ErrCodeNotFound, message, statusDetail).WithStatus(status)

	case status >= 500:
		message := "Server error: " + firstNonEmpty(detail, statusText)
		return utils.NewAppError(utils.ErrCodeServer, message, statusDetail).WithStatus(status)
	}

	var fallback string
	switch operation {
	case OpCount:
		fallback = "Failed to fetch unacknowledged count: " + statusText
	case OpAcknowledge:
		fallback = "Failed to acknowledge notification: " + statusText
	case OpDelete:
		fallback = "Failed to delete notification: " + statusText
	default:
		fallback = fmt.Sprintf("HTTP %d: %s", status, statusText)
	}
	return utils.NewAppError(utils.ErrCodeRequest, firstNonEmpty(detail, fallback), statusDetail).WithStatus(status)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
