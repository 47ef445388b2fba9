package notification

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/mine-alert-notifier/internal/config"
	"github.com/smartdevs17/mine-alert-notifier/internal/models"
	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

func init() {
	utils.SetLogOutput(io.Discard)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, token string) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.BackendConfig{
		APIURL:         srv.URL + "/api",
		RequestTimeout: 2 * time.Second,
		HealthTimeout:  time.Second,
	}
	return NewClient(cfg, StaticToken(token), nil), srv
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestListNotificationsSendsQueryAndToken(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"notifications": []map[string]interface{}{
				{"_id": "n1", "tag": "CR-03", "equipmentName": "Crusher 3", "status": "down", "severity": "critical",
					"message": "stopped", "timestamp": "2024-05-01T10:00:00.000Z", "acknowledged": false,
					"createdAt": "2024-05-01T10:00:00.000Z"},
			},
			"totalPages":  3,
			"currentPage": 2,
			"totalCount":  101,
		})
	}, "tok-1")

	acknowledged := false
	resp, err := client.ListNotifications(context.Background(), models.ListParams{
		Page:         2,
		Limit:        50,
		Status:       models.StatusDown,
		Acknowledged: &acknowledged,
		Severity:     models.SeverityCritical,
		StartDate:    "2024-05-01",
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "/api/notifications", got.URL.Path)
	q := got.URL.Query()
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "50", q.Get("limit"))
	assert.Equal(t, "down", q.Get("status"))
	assert.Equal(t, "false", q.Get("acknowledged"))
	assert.Equal(t, "critical", q.Get("severity"))
	assert.Equal(t, "2024-05-01", q.Get("startDate"))
	assert.False(t, q.Has("endDate"))
	assert.Equal(t, "Bearer tok-1", got.Header.Get("Authorization"))
	assert.NotEmpty(t, got.Header.Get("X-Request-ID"))

	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "n1", resp.Notifications[0].ID)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Equal(t, 2, resp.CurrentPage)
	assert.Equal(t, 101, resp.TotalCount)
}

func TestNoAuthorizationHeaderWithoutToken(t *testing.T) {
	var header string
	var present bool
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		_, present = r.Header["Authorization"]
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "count": 4})
	}, "")

	count, err := client.GetUnacknowledgedCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Empty(t, header)
	assert.False(t, present)
}

func TestAcknowledgeAndDelete(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/notifications/n1/acknowledge":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success": true,
				"notification": map[string]interface{}{
					"_id": "n1", "acknowledged": true,
					"acknowledgedBy": map[string]string{"_id": "u1", "firstName": "Ada", "lastName": "Obi", "email": "ada@example.com"},
					"acknowledgedAt": "2024-05-01T10:05:00Z",
				},
			})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/notifications/n1":
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "Notification deleted"})
		default:
			http.NotFound(w, r)
		}
	}, "tok")

	n, err := client.AcknowledgeNotification(context.Background(), "n1")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.Acknowledged)
	require.NotNil(t, n.AcknowledgedBy)
	assert.Equal(t, "Ada", n.AcknowledgedBy.FirstName)

	del, err := client.DeleteNotification(context.Background(), "n1")
	require.NoError(t, err)
	assert.True(t, del.Success)
	assert.Equal(t, "Notification deleted", del.Message)

	_, err = client.AcknowledgeNotification(context.Background(), "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeValidation))
}

func TestFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		call    func(*Client) error
		code    string
		message string
	}{
		{
			name:   "list unauthorized",
			status: http.StatusUnauthorized,
			call: func(c *Client) error {
				_, err := c.ListNotifications(context.Background(), models.ListParams{})
				return err
			},
			code:    utils.ErrCodeAuthRequired,
			message: "Authentication required. Please log in again.",
		},
		{
			name:   "count unauthorized",
			status: http.StatusUnauthorized,
			call: func(c *Client) error {
				_, err := c.GetUnacknowledgedCount(context.Background())
				return err
			},
			code:    utils.ErrCodeAuthRequired,
			message: "Authentication required",
		},
		{
			name:   "list endpoint missing",
			status: http.StatusNotFound,
			call: func(c *Client) error {
				_, err := c.ListNotifications(context.Background(), models.ListParams{})
				return err
			},
			code:    utils.ErrCodeNotFound,
			message: "Notifications endpoint not found. Check backend URL configuration.",
		},
		{
			name:   "delete forbidden",
			status: http.StatusForbidden,
			body:   `{"message":"nope"}`,
			call: func(c *Client) error {
				_, err := c.DeleteNotification(context.Background(), "n1")
				return err
			},
			code:    utils.ErrCodeForbidden,
			message: "Admin access required",
		},
		{
			name:   "server error with detail",
			status: http.StatusInternalServerError,
			body:   `{"success":false,"message":"database unavailable"}`,
			call: func(c *Client) error {
				_, err := c.ListNotifications(context.Background(), models.ListParams{})
				return err
			},
			code:    utils.ErrCodeServer,
			message: "Server error: database unavailable",
		},
		{
			name:   "server error without json body",
			status: http.StatusBadGateway,
			body:   `<html>bad gateway</html>`,
			call: func(c *Client) error {
				_, err := c.AcknowledgeNotification(context.Background(), "n1")
				return err
			},
			code:    utils.ErrCodeServer,
			message: "Server error: Bad Gateway",
		},
		{
			name:   "acknowledge conflict falls back to status text",
			status: http.StatusConflict,
			call: func(c *Client) error {
				_, err := c.AcknowledgeNotification(context.Background(), "n1")
				return err
			},
			code:    utils.ErrCodeRequest,
			message: "Failed to acknowledge notification: Conflict",
		},
		{
			name:   "list bad request uses server message",
			status: http.StatusBadRequest,
			body:   `{"message":"invalid severity"}`,
			call: func(c *Client) error {
				_, err := c.ListNotifications(context.Background(), models.ListParams{})
				return err
			},
			code:    utils.ErrCodeRequest,
			message: "invalid severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}, "tok")

			err := tt.call(client)
			require.Error(t, err)
			assert.Equal(t, tt.code, utils.ErrorCode(err))
			assert.Equal(t, tt.message, utils.UserMessage(err))

			var appErr *utils.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.status, appErr.StatusCode)
		})
	}
}

func TestNetworkFailureIsClassifiedSeparately(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL + "/api"
	srv.Close()

	client := NewClient(&config.BackendConfig{APIURL: base, RequestTimeout: time.Second}, nil, nil)
	_, err := client.ListNotifications(context.Background(), models.ListParams{})
	require.Error(t, err)
	assert.Equal(t, utils.ErrCodeNetwork, utils.ErrorCode(err))
	assert.Equal(t, "Cannot connect to backend at "+base+". Is the server running?", utils.UserMessage(err))
}

func TestCanceledContextIsReturnedUnwrapped(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}, "tok")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.GetUnacknowledgedCount(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, utils.ErrorCode(err))
}

func TestHealthCheck(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		if healthy.Load() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}, "")

	assert.NoError(t, client.HealthCheck(context.Background()))

	healthy.Store(false)
	err := client.HealthCheck(context.Background())
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeServer))
}

func TestHealthCheckTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := NewClient(&config.BackendConfig{
		APIURL:         srv.URL,
		RequestTimeout: 5 * time.Second,
		HealthTimeout:  50 * time.Millisecond,
	}, nil, nil)

	start := time.Now()
	err := client.HealthCheck(context.Background())
	assert.True(t, utils.IsErrorCode(err, utils.ErrCodeNetwork))
	assert.Less(t, time.Since(start), time.Second)
}
