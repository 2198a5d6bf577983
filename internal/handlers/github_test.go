package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"pr-thread-notifier/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCloudTasksService records enqueued jobs for assertions.
type mockCloudTasksService struct {
	enqueued []*models.WebhookJob
	err      error
}

func (m *mockCloudTasksService) EnqueueWebhook(_ context.Context, job *models.WebhookJob) error {
	if m.err != nil {
		return m.err
	}
	m.enqueued = append(m.enqueued, job)
	return nil
}

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func performWebhook(handler *GitHubHandler, body string, headers http.Header) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhooks/github", bytes.NewBufferString(body))
	for key, values := range headers {
		for _, value := range values {
			c.Request.Header.Set(key, value)
		}
	}
	handler.HandleWebhook(c)
	return w
}

func validHeaders(secret, body string) http.Header {
	header := http.Header{}
	header.Set("X-Hub-Signature-256", signBody(secret, body))
	header.Set("X-GitHub-Event", "pull_request")
	header.Set("X-GitHub-Delivery", "delivery-1")
	header.Set("Content-Type", "application/json")
	return header
}

func TestGitHubHandler_ValidWebhookIsQueued(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"opened","repository":{"full_name":"acme/widgets"}}`

	w := performWebhook(handler, body, validHeaders("test-secret", body))

	assert.Equal(t, 200, w.Code)
	require.Len(t, tasks.enqueued, 1)
	job := tasks.enqueued[0]
	assert.Equal(t, "pull_request", job.EventType)
	assert.Equal(t, "delivery-1", job.DeliveryID)
	assert.JSONEq(t, body, string(job.Payload))
}

func TestGitHubHandler_InvalidSignatureIsRejected(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"opened","repository":{"full_name":"acme/widgets"}}`

	headers := validHeaders("test-secret", body)
	headers.Set("X-Hub-Signature-256", "sha256=deadbeef")

	w := performWebhook(handler, body, headers)

	assert.Equal(t, 401, w.Code)
	assert.Empty(t, tasks.enqueued)
}

func TestGitHubHandler_MissingSignatureIsRejected(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"opened","repository":{"full_name":"acme/widgets"}}`

	headers := validHeaders("test-secret", body)
	headers.Del("X-Hub-Signature-256")

	w := performWebhook(handler, body, headers)

	assert.Equal(t, 401, w.Code)
	assert.Empty(t, tasks.enqueued)
}

func TestGitHubHandler_MissingHeadersRejected(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"opened","repository":{}}`

	headers := validHeaders("test-secret", body)
	headers.Del("X-GitHub-Delivery")

	w := performWebhook(handler, body, headers)
	assert.Equal(t, 400, w.Code)
}

func TestGitHubHandler_UnsupportedEventTypeRejected(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"created"}`

	headers := validHeaders("test-secret", body)
	headers.Set("X-GitHub-Event", "star")

	w := performWebhook(handler, body, headers)
	assert.Equal(t, 400, w.Code)
	assert.Empty(t, tasks.enqueued)
}

func TestGitHubHandler_PayloadMissingActionRejected(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"repository":{"full_name":"acme/widgets"}}`

	w := performWebhook(handler, body, validHeaders("test-secret", body))
	assert.Equal(t, 400, w.Code)
}

func TestGitHubHandler_EnqueueFailureReturns500(t *testing.T) {
	tasks := &mockCloudTasksService{err: errors.New("queue unavailable")}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"opened","repository":{"full_name":"acme/widgets"}}`

	w := performWebhook(handler, body, validHeaders("test-secret", body))
	assert.Equal(t, 500, w.Code)
}

func TestGitHubHandler_InstallationEventIsQueued(t *testing.T) {
	tasks := &mockCloudTasksService{}
	handler := NewGitHubHandler(tasks, "test-secret")
	body := `{"action":"created","installation":{"id":4242,"account":{"id":7,"login":"acme"}}}`

	headers := validHeaders("test-secret", body)
	headers.Set("X-GitHub-Event", "installation")

	w := performWebhook(handler, body, headers)
	assert.Equal(t, 200, w.Code)
	require.Len(t, tasks.enqueued, 1)
	assert.Equal(t, "installation", tasks.enqueued[0].EventType)
}
