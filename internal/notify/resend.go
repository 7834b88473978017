package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

const DefaultFrom = "AI Fashion Studio <noreply@aifashion.studio>"

// Resend sends rendered templates through the Resend API.
type Resend struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	api     *resend.Client
}

type ResendOption func(*Resend)

// WithResendBaseURL points the client at another API root, a test server
// for instance.
func WithResendBaseURL(baseURL string) ResendOption {
	return func(r *Resend) {
		r.baseURL = baseURL
	}
}

func WithResendFrom(from string) ResendOption {
	return func(r *Resend) {
		r.from = from
	}
}

func WithResendHTTPClient(client *http.Client) ResendOption {
	return func(r *Resend) {
		r.client = client
	}
}

func NewResend(apiKey string, opts ...ResendOption) (*Resend, error) {
	r := &Resend{
		apiKey: apiKey,
		from:   DefaultFrom,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.api = resend.NewCustomClient(r.client, apiKey)
	if r.baseURL != "" {
		if !strings.HasSuffix(r.baseURL, "/") {
			r.baseURL += "/"
		}
		u, err := url.Parse(r.baseURL)
		if err != nil {
			return nil, fmt.Errorf("resend base url: %w", err)
		}
		r.api.BaseURL = u
	}
	return r, nil
}

func (r *Resend) Send(ctx context.Context, msg Message) error {
	if r.apiKey == "" {
		return ErrNotConfigured
	}
	subject, html, err := Render(msg)
	if err != nil {
		return err
	}
	if _, err := r.api.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: subject,
		Html:    html,
	}); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Template, err)
	}
	return nil
}
