package token

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreachmail/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// RemoteMessage is one message as reported by the mailbox provider.
type RemoteMessage struct {
	ID           string
	From         string
	To           []string
	Subject      string
	Snippet      string
	Body         string
	LabelIDs     []string
	InternalDate time.Time
}

// MailboxClient is the provider surface the manager depends on. The
// production implementation wraps Google's OAuth endpoint and the Gmail
// API; tests substitute fakes. Keeping the SDK behind this seam means no
// ambient SDK singletons and no monkey-patching in tests.
type MailboxClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
	Profile(ctx context.Context, tok *oauth2.Token) (string, error)
	SendRaw(ctx context.Context, tok *oauth2.Token, raw string) (string, error)
	ListMessageIDs(ctx context.Context, tok *oauth2.Token, max int64) ([]string, error)
	GetMessage(ctx context.Context, tok *oauth2.Token, id string) (*RemoteMessage, error)
}

// googleClient implements MailboxClient against Gmail.
type googleClient struct {
	config *oauth2.Config
}

// NewGoogleClient builds the production MailboxClient. The scope set is
// the minimum for the subsystem: send mail, read messages, read the
// account's email address.
func NewGoogleClient(cfg *config.GoogleConfig) (MailboxClient, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("Google OAuth client credentials are required")
	}

	return &googleClient{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes: []string{
				gmail.GmailSendScope,
				gmail.GmailReadonlyScope,
				"https://www.googleapis.com/auth/userinfo.email",
			},
			Endpoint: google.Endpoint,
		},
	}, nil
}

// AuthCodeURL returns the consent URL. Offline access plus forced approval
// so the provider issues a refresh token on every completed consent.
func (c *googleClient) AuthCodeURL(state string) string {
	return c.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (c *googleClient) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return tok, nil
}

// Refresh trades the refresh token for a fresh access token. A provider
// rejection (revoked or expired grant) surfaces as ErrGrantRevoked;
// transport failures pass through unchanged.
func (c *googleClient) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	src := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	newTok, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.Response == nil || retrieveErr.Response.StatusCode < 500 {
				return nil, fmt.Errorf("%w: %s", ErrGrantRevoked, string(retrieveErr.Body))
			}
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return newTok, nil
}

func (c *googleClient) Profile(ctx context.Context, tok *oauth2.Token) (string, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return "", err
	}

	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get mailbox profile: %w", err)
	}

	return strings.ToLower(profile.EmailAddress), nil
}

func (c *googleClient) SendRaw(ctx context.Context, tok *oauth2.Token, raw string) (string, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return "", err
	}

	result, err := svc.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		if googleErr, ok := err.(*googleapi.Error); ok && googleErr.Code < 500 {
			return "", &SendRejectedError{
				StatusCode: googleErr.Code,
				Message:    googleErr.Message,
				Cause:      err,
			}
		}
		return "", fmt.Errorf("failed to send via mailbox provider: %w", err)
	}

	return result.Id, nil
}

func (c *googleClient) ListMessageIDs(ctx context.Context, tok *oauth2.Token, max int64) ([]string, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Users.Messages.List("me").MaxResults(max).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}

	return ids, nil
}

func (c *googleClient) GetMessage(ctx context.Context, tok *oauth2.Token, id string) (*RemoteMessage, error) {
	svc, err := c.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	msg, err := svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}

	remote := &RemoteMessage{
		ID:           msg.Id,
		Snippet:      msg.Snippet,
		LabelIDs:     msg.LabelIds,
		InternalDate: time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				remote.From = h.Value
			case "to":
				remote.To = splitAddressList(h.Value)
			case "subject":
				remote.Subject = h.Value
			}
		}
		remote.Body = extractBody(msg.Payload)
	}

	return remote, nil
}

func (c *googleClient) service(ctx context.Context, tok *oauth2.Token) (*gmail.Service, error) {
	svc, err := gmail.NewService(ctx, option.WithTokenSource(oauth2.StaticTokenSource(tok)))
	if err != nil {
		return nil, fmt.Errorf("failed to create mailbox service: %w", err)
	}
	return svc, nil
}

// extractBody walks the payload for the first text part, preferring plain
// text over HTML.
func extractBody(payload *gmail.MessagePart) string {
	if body := findPart(payload, "text/plain"); body != "" {
		return body
	}
	return findPart(payload, "text/html")
}

func findPart(part *gmail.MessagePart, mimeType string) string {
	if part == nil {
		return ""
	}

	if part.MimeType == mimeType && part.Body != nil && part.Body.Data != "" {
		if decoded, err := decodeBody(part.Body.Data); err == nil {
			return decoded
		}
	}

	for _, p := range part.Parts {
		if body := findPart(p, mimeType); body != "" {
			return body
		}
	}

	return ""
}

// decodeBody decodes Gmail's base64url part data, which may arrive with or
// without padding.
func decodeBody(data string) (string, error) {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded), nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func splitAddressList(value string) []string {
	parts := strings.Split(value, ",")
	addrs := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	return addrs
}
