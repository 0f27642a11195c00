package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"outreachmail/internal/config"
	"outreachmail/pkg/models"
)

func newTestSendGrid(t *testing.T, baseURL string) *SendGridProvider {
	t.Helper()
	p, err := NewSendGridProvider(&config.SendGridConfig{
		APIKey:    "SG.test-key",
		BaseURL:   baseURL,
		FromEmail: "outreach@example.com",
		Timeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	return p
}

func TestSendGridProvider_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("SuccessReturnsMessageID", func(t *testing.T) {
		var gotAuth string
		var gotBody sendGridRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &gotBody)
			w.Header().Set("X-Message-Id", "sg-abc123")
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		p := newTestSendGrid(t, server.URL)
		result, err := p.Send(ctx, &models.Message{
			To:      []string{"user@example.com"},
			Subject: "Hi",
			Text:    "Body",
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if result.MessageID != "sg-abc123" {
			t.Errorf("Expected message id sg-abc123, got: %s", result.MessageID)
		}
		if result.StatusCode != http.StatusAccepted {
			t.Errorf("Expected status 202, got: %d", result.StatusCode)
		}
		if gotAuth != "Bearer SG.test-key" {
			t.Errorf("Expected bearer auth header, got: %s", gotAuth)
		}
		if gotBody.From.Email != "outreach@example.com" {
			t.Errorf("Expected configured from address, got: %s", gotBody.From.Email)
		}
		if len(gotBody.Personalizations) != 1 || gotBody.Personalizations[0].To[0].Email != "user@example.com" {
			t.Errorf("Unexpected personalizations: %+v", gotBody.Personalizations)
		}
	})

	t.Run("ClientErrorBecomesRejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"errors":[{"message":"does not contain a valid address","field":"personalizations.0.to"}]}`))
		}))
		defer server.Close()

		p := newTestSendGrid(t, server.URL)
		_, err := p.Send(ctx, &models.Message{To: []string{"nope"}, Subject: "Hi", Text: "Body"})

		var rejected *RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("Expected RejectedError, got: %v", err)
		}
		if rejected.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got: %d", rejected.StatusCode)
		}
		if !strings.Contains(rejected.Message, "personalizations.0.to") {
			t.Errorf("Expected field-level detail, got: %s", rejected.Message)
		}
	})

	t.Run("ServerErrorBecomesUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		p := newTestSendGrid(t, server.URL)
		_, err := p.Send(ctx, &models.Message{To: []string{"user@example.com"}, Subject: "Hi", Text: "Body"})

		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("Expected UnavailableError, got: %v", err)
		}
	})

	t.Run("NetworkFailureBecomesUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close() // refuse all connections

		p := newTestSendGrid(t, server.URL)
		_, err := p.Send(ctx, &models.Message{To: []string{"user@example.com"}, Subject: "Hi", Text: "Body"})

		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			t.Fatalf("Expected UnavailableError, got: %v", err)
		}
	})

	t.Run("TemplateSendCarriesDynamicData", func(t *testing.T) {
		var gotBody sendGridRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &gotBody)
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		p := newTestSendGrid(t, server.URL)
		_, err := p.Send(ctx, &models.Message{
			To:           []string{"user@example.com"},
			TemplateID:   "d-1234",
			TemplateData: map[string]interface{}{"creator_name": "Ada"},
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if gotBody.TemplateID != "d-1234" {
			t.Errorf("Expected template id d-1234, got: %s", gotBody.TemplateID)
		}
		if gotBody.Personalizations[0].DynamicTemplateData["creator_name"] != "Ada" {
			t.Errorf("Expected dynamic data, got: %+v", gotBody.Personalizations[0].DynamicTemplateData)
		}
	})

	t.Run("MissingSenderFailsWithoutRequest", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer server.Close()

		p, err := NewSendGridProvider(&config.SendGridConfig{APIKey: "SG.test-key", BaseURL: server.URL})
		if err != nil {
			t.Fatalf("Failed to create provider: %v", err)
		}

		_, err = p.Send(ctx, &models.Message{To: []string{"user@example.com"}, Subject: "Hi", Text: "Body"})
		if !IsValidationError(err) {
			t.Fatalf("Expected ValidationError for missing sender, got: %v", err)
		}
		if calls != 0 {
			t.Errorf("Expected no request, got %d", calls)
		}
	})
}

func TestNewSendGridProvider(t *testing.T) {
	t.Run("RequiresAPIKey", func(t *testing.T) {
		if _, err := NewSendGridProvider(&config.SendGridConfig{}); err == nil {
			t.Fatal("Expected error for missing API key")
		}
	})

	t.Run("DefaultsBaseURL", func(t *testing.T) {
		p, err := NewSendGridProvider(&config.SendGridConfig{APIKey: "SG.key"})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if p.config.BaseURL != "https://api.sendgrid.com/v3" {
			t.Errorf("Expected default base URL, got: %s", p.config.BaseURL)
		}
	})
}
