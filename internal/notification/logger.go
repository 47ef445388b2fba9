// File: internal/notification/logger.go
package notification

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/mine-alert-notifier/pkg/utils"
)

// RequestLogger handles logging for backend REST operations
type RequestLogger struct {
	logger  *logrus.Logger
	context map[string]interface{}
}

// NewRequestLogger creates a new request logger on the global logger
func NewRequestLogger() *RequestLogger {
	return &RequestLogger{
		logger:  utils.GetLogger(),
		context: make(map[string]interface{}),
	}
}

// WithContext adds context to the logger
func (rl *RequestLogger) WithContext(context map[string]interface{}) *RequestLogger {
	newLogger := &RequestLogger{
		logger:  rl.logger,
		context: make(map[string]interface{}, len(rl.context)+len(context)),
	}

	// Copy existing context
	for k, v := range rl.context {
		newLogger.context[k] = v
	}

	// Add new context
	for k, v := range context {
		newLogger.context[k] = v
	}

	return newLogger
}

// WithField adds a single field to the logger context
func (rl *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return rl.WithContext(map[string]interface{}{key: value})
}

func (rl *RequestLogger) entry(extra map[string]interface{}) *logrus.Entry {
	fields := logrus.Fields{"component": "rest-client"}
	for k, v := range rl.context {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	return rl.logger.WithFields(fields)
}

// LogRequestAttempt logs an outgoing backend request
func (rl *RequestLogger) LogRequestAttempt(operation, method, url, requestID string) {
	rl.entry(map[string]interface{}{
		"operation":  operation,
		"method":     method,
		"url":        url,
		"request_id": requestID,
	}).Debug("Backend request started")
}

// LogRequestResult logs the outcome of a backend request
func (rl *RequestLogger) LogRequestResult(operation string, statusCode int, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"operation":   operation,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	if err != nil {
		fields["error"] = err.Error()
		if code := utils.ErrorCode(err); code != "" {
			fields["error_code"] = code
		}
		rl.entry(fields).Warn("Backend request failed")
		return
	}
	rl.entry(fields).Debug("Backend request completed")
}

// LogHealthCheck logs a backend health probe
func (rl *RequestLogger) LogHealthCheck(url string, healthy bool, duration time.Duration, err error) {
	fields := map[string]interface{}{
		"url":         url,
		"healthy":     healthy,
		"duration_ms": duration.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	if healthy {
		rl.entry(fields).Debug("Backend health check passed")
	} else {
		rl.entry(fields).Warn("Backend health check failed")
	}
}
