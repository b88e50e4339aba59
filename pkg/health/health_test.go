package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAggregates(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", func(context.Context) error { return nil })
	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)
	assert.Empty(t, report.Down())

	c.Register("redis", func(context.Context) error { return errors.New("connection refused") })
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, []string{"redis"}, report.Down())
	assert.Equal(t, "connection refused", report.Components["redis"].Message)
}

func TestHandlerStatusCodes(t *testing.T) {
	c := NewChecker()
	c.Register("postgres", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("kafka", func(context.Context) error { return errors.New("no brokers") })
	rec = httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, StatusDown, report.Components["kafka"].Status)
}
