// Package notify turns entity events into email intents and webhook calls.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"entityflow/internal/metadata"
)

// Manager dispatches notifications for a committed entity event.
type Manager interface {
	SendEmailNotifications(ctx context.Context, table string, cfg metadata.EmailNotification, event string, data metadata.Record, id any) error
	TriggerWebhooks(ctx context.Context, table string, hooks []metadata.WebhookNotification, event string, data metadata.Record, id any) error
}

// EmailMessage is handed to a Mailer; delivery is the mailer's business.
type EmailMessage struct {
	To      []string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// LogMailer only logs the messages it is given.
type LogMailer struct {
	Logger *zap.Logger
}

func (m LogMailer) Send(_ context.Context, msg EmailMessage) error {
	if m.Logger != nil {
		m.Logger.Info("email notification",
			zap.Strings("to", msg.To), zap.String("subject", msg.Subject))
	}
	return nil
}

// WebhookPayload is the JSON body sent to webhook endpoints.
type WebhookPayload struct {
	Event          string          `json:"event"`
	Table          string          `json:"table"`
	ID             any             `json:"id"`
	Record         metadata.Record `json:"record"`
	Timestamp      string          `json:"timestamp"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// Dispatcher is the default Manager.
type Dispatcher struct {
	mailer Mailer
	client *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	programs map[string]*vm.Program
}

type Option func(*Dispatcher)

func WithMailer(m Mailer) Option {
	return func(d *Dispatcher) { d.mailer = m }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

func NewDispatcher(logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		mailer:   LogMailer{Logger: logger},
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		programs: make(map[string]*vm.Program),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) SendEmailNotifications(ctx context.Context, table string, cfg metadata.EmailNotification, event string, data metadata.Record, id any) error {
	if len(cfg.Recipients) == 0 {
		return nil
	}
	subject := cfg.Subject
	if subject == "" {
		subject = fmt.Sprintf("%s %v: %s", table, id, event)
	}
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode email body: %w", err)
	}
	return d.mailer.Send(ctx, EmailMessage{To: cfg.Recipients, Subject: subject, Body: string(body)})
}

// TriggerWebhooks calls every webhook whose condition holds. All webhooks
// are attempted; the returned error joins the individual failures.
func (d *Dispatcher) TriggerWebhooks(ctx context.Context, table string, hooks []metadata.WebhookNotification, event string, data metadata.Record, id any) error {
	var errs []error
	for _, wh := range hooks {
		payload := &WebhookPayload{
			Event:          event,
			Table:          table,
			ID:             id,
			Record:         data,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
			IdempotencyKey: "wh_" + uuid.New().String(),
		}
		ok, err := d.conditionHolds(wh.Condition, payload)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if err := d.dispatch(ctx, wh, payload); err != nil {
			d.logger.Warn("webhook delivery failed",
				zap.String("table", table), zap.String("url", wh.URL), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// conditionHolds evaluates a webhook condition. Empty conditions always hold.
func (d *Dispatcher) conditionHolds(condition string, payload *WebhookPayload) (bool, error) {
	if condition == "" {
		return true, nil
	}

	d.mu.Lock()
	prog, ok := d.programs[condition]
	if !ok {
		var err error
		prog, err = expr.Compile(condition, expr.AsBool())
		if err != nil {
			d.mu.Unlock()
			return false, fmt.Errorf("compile webhook condition: %w", err)
		}
		d.programs[condition] = prog
	}
	d.mu.Unlock()

	env := map[string]any{
		"record": map[string]any(payload.Record),
		"event":  payload.Event,
		"table":  payload.Table,
		"id":     payload.ID,
	}
	result, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate webhook condition: %w", err)
	}
	b, _ := result.(bool)
	return b, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, wh metadata.WebhookNotification, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}
	method := wh.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, wh.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
	for k, v := range ResolveHeaders(wh.Headers) {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http call: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: HTTP %d", wh.URL, resp.StatusCode)
	}
	return nil
}

// ResolveHeaders replaces {{env.VAR_NAME}} in header values with os env values.
func ResolveHeaders(headers map[string]string) map[string]string {
	resolved := make(map[string]string, len(headers))
	for k, v := range headers {
		resolved[k] = resolveEnvVars(v)
	}
	return resolved
}

func resolveEnvVars(s string) string {
	for {
		start := strings.Index(s, "{{env.")
		if start == -1 {
			return s
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return s
		}
		end += start
		s = s[:start] + os.Getenv(s[start+6:end]) + s[end+2:]
	}
}
