package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"voice-receptionist/internal/config"
	"voice-receptionist/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// Channel delivers a notification to one kind of tenant contact.
type Channel interface {
	Name() string
	// Enabled reports whether the channel is configured and the tenant has a
	// destination for it.
	Enabled(n Notification) bool
	Send(ctx context.Context, n Notification) error
}

var ErrDeliveryRejected = errors.New("notification rejected by provider")

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	retryMaxElapsed      = 20 * time.Second
)

// sendWithRetry retries transient failures with exponential backoff. 4xx
// responses other than 429 are final.
func sendWithRetry(ctx context.Context, channel string, maxElapsed time.Duration, send func() (*resty.Response, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()

	notify := func(err error, d time.Duration) {
		logger.From(ctx).Warn("retrying notification", "channel", channel, "err", err, "after", d)
	}

	return backoff.RetryNotify(func() error {
		resp, err := send()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		code := resp.StatusCode()
		switch {
		case code >= 200 && code < 300:
			return nil
		case code == http.StatusTooManyRequests || code >= 500:
			return fmt.Errorf("%s: upstream status %d", channel, code)
		default:
			return backoff.Permanent(fmt.Errorf("%w: %s status %d: %s", ErrDeliveryRejected, channel, code, strings.TrimSpace(resp.String())))
		}
	}, backoff.WithContext(b, ctx), notify)
}

// EmailChannel sends through the SendGrid v3 mail API.
type EmailChannel struct {
	client     *resty.Client
	from       string
	apiKey     string
	maxElapsed time.Duration
}

func NewEmailChannel(cfg config.NotifyConfig) *EmailChannel {
	return &EmailChannel{
		client:     resty.New().SetBaseURL(strings.TrimRight(cfg.SendGridBaseURL, "/")),
		from:       cfg.FromEmail,
		apiKey:     cfg.SendGridAPIKey,
		maxElapsed: retryMaxElapsed,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Enabled(n Notification) bool {
	return c.apiKey != "" && strings.TrimSpace(n.Tenant.NotificationEmail) != ""
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridMail struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (c *EmailChannel) Send(ctx context.Context, n Notification) error {
	body, err := n.EmailHTML()
	if err != nil {
		return err
	}
	mail := sendGridMail{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: strings.TrimSpace(n.Tenant.NotificationEmail)}}}},
		From:             sendGridAddress{Email: c.from, Name: n.Tenant.BusinessName},
		Subject:          n.EmailSubject(),
		Content:          []sendGridContent{{Type: "text/html", Value: body}},
	}

	return sendWithRetry(ctx, c.Name(), c.maxElapsed, func() (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetAuthToken(c.apiKey).
			SetBody(mail).
			Post("/v3/mail/send")
	})
}

// SMSChannel sends through the Twilio Messages API.
type SMSChannel struct {
	client     *resty.Client
	accountSID string
	from       string
	maxElapsed time.Duration
}

func NewSMSChannel(cfg config.TwilioConfig) *SMSChannel {
	return &SMSChannel{
		client: resty.New().
			SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/")).
			SetBasicAuth(cfg.AccountSID, cfg.AuthToken),
		accountSID: cfg.AccountSID,
		from:       cfg.FromNumber,
		maxElapsed: retryMaxElapsed,
	}
}

func (c *SMSChannel) Name() string { return "sms" }

func (c *SMSChannel) Enabled(n Notification) bool {
	return c.accountSID != "" && c.from != "" && strings.TrimSpace(n.Tenant.NotificationPhone) != ""
}

func (c *SMSChannel) Send(ctx context.Context, n Notification) error {
	form := map[string]string{
		"To":   strings.TrimSpace(n.Tenant.NotificationPhone),
		"From": c.from,
		"Body": n.SMSBody(),
	}
	return sendWithRetry(ctx, c.Name(), c.maxElapsed, func() (*resty.Response, error) {
		return c.client.R().
			SetContext(ctx).
			SetPathParam("sid", c.accountSID).
			SetFormData(form).
			Post("/2010-04-01/Accounts/{sid}/Messages.json")
	})
}
