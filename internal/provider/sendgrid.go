package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"outreachmail/internal/config"
	"outreachmail/pkg/models"
)

// SendGridProvider implements the Provider interface over SendGrid's v3
// mail send API.
type SendGridProvider struct {
	config     *config.SendGridConfig
	httpClient *http.Client
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To                  []sendGridAddress      `json:"to"`
	CC                  []sendGridAddress      `json:"cc,omitempty"`
	BCC                 []sendGridAddress      `json:"bcc,omitempty"`
	DynamicTemplateData map[string]interface{} `json:"dynamic_template_data,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject,omitempty"`
	Content          []sendGridContent         `json:"content,omitempty"`
	TemplateID       string                    `json:"template_id,omitempty"`
	Headers          map[string]string         `json:"headers,omitempty"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

// sendGridErrorResponse is SendGrid's structured error body with
// field-level messages.
type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func NewSendGridProvider(cfg *config.SendGridConfig) (*SendGridProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("SendGrid config cannot be nil")
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SendGrid API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &SendGridProvider{
		config: &config.SendGridConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   baseURL,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
			Timeout:   timeout,
		},
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (p *SendGridProvider) Name() string {
	return "sendgrid"
}

// Send implements Provider.Send.
func (p *SendGridProvider) Send(ctx context.Context, msg *models.Message) (*SendResult, error) {
	body, err := p.buildRequest(msg)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode SendGrid request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/mail/send", p.config.BaseURL)
	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	startTime := time.Now()
	resp, err := p.httpClient.Do(req)
	sendDuration := time.Since(startTime)

	if err != nil {
		log.Printf("SendGrid request failed (took %v): %v", sendDuration, err)
		return nil, &UnavailableError{Provider: p.Name(), Cause: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close response body: %v", closeErr)
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		messageID := resp.Header.Get("X-Message-Id")
		log.Printf("SendGrid send successful to %v (took %v, status %d, id %s)",
			msg.To, sendDuration, resp.StatusCode, messageID)

		return &SendResult{
			MessageID:  messageID,
			StatusCode: resp.StatusCode,
			Duration:   sendDuration,
		}, nil
	}

	detail := p.readErrorDetail(resp.Body)
	log.Printf("SendGrid send failed to %v (took %v, status %d): %s",
		msg.To, sendDuration, resp.StatusCode, detail)

	if resp.StatusCode >= 500 {
		return nil, &UnavailableError{
			Provider: p.Name(),
			Cause:    fmt.Errorf("status %d: %s", resp.StatusCode, detail),
		}
	}

	return nil, &RejectedError{
		Provider:   p.Name(),
		StatusCode: resp.StatusCode,
		Message:    detail,
	}
}

func (p *SendGridProvider) buildRequest(msg *models.Message) (*sendGridRequest, error) {
	from := msg.From
	if from == "" {
		from = p.config.FromEmail
	}
	if from == "" {
		return nil, &ValidationError{Field: "from", Message: "sender email is required"}
	}

	pers := sendGridPersonalization{
		To: toAddresses(msg.To),
	}
	if len(msg.CC) > 0 {
		pers.CC = toAddresses(msg.CC)
	}
	if len(msg.BCC) > 0 {
		pers.BCC = toAddresses(msg.BCC)
	}
	if msg.TemplateID != "" {
		pers.DynamicTemplateData = msg.TemplateData
	}

	req := &sendGridRequest{
		Personalizations: []sendGridPersonalization{pers},
		From:             sendGridAddress{Email: from, Name: p.config.FromName},
		Subject:          msg.Subject,
		TemplateID:       msg.TemplateID,
		Headers:          msg.Headers,
	}

	if msg.Text != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/plain", Value: msg.Text})
	}
	if msg.HTML != "" {
		req.Content = append(req.Content, sendGridContent{Type: "text/html", Value: msg.HTML})
	}

	if msg.TemplateID == "" && len(req.Content) == 0 {
		return nil, &ValidationError{Field: "body", Message: "message must contain HTML or text content"}
	}

	// Campaign/user tracking travels as custom args so webhooks can
	// correlate events back to platform objects.
	customArgs := make(map[string]string)
	if msg.ID != "" {
		customArgs["message_id"] = msg.ID
	}
	if msg.CampaignID != "" {
		customArgs["campaign_id"] = msg.CampaignID
	}
	if msg.UserID != "" {
		customArgs["user_id"] = msg.UserID
	}
	if len(customArgs) > 0 {
		req.CustomArgs = customArgs
	}

	return req, nil
}

func (p *SendGridProvider) readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 8192))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}

	var errResp sendGridErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && len(errResp.Errors) > 0 {
		parts := make([]string, 0, len(errResp.Errors))
		for _, e := range errResp.Errors {
			if e.Field != "" {
				parts = append(parts, fmt.Sprintf("%s: %s", e.Field, e.Message))
			} else {
				parts = append(parts, e.Message)
			}
		}
		return strings.Join(parts, "; ")
	}

	return string(data)
}

func toAddresses(emails []string) []sendGridAddress {
	addrs := make([]sendGridAddress, 0, len(emails))
	for _, email := range emails {
		addrs = append(addrs, sendGridAddress{Email: email})
	}
	return addrs
}
