package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/pahana-edu/bookshop-checkout/internal/money"
	"github.com/pahana-edu/bookshop-checkout/internal/obs"
)

var confirmationTemplate = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"amount": func(f *money.Formatter, m money.Money) string { return f.Format(m) },
}).Parse(`<p>Thank you for your order at Pahana Edu.</p>
<p>Reference: <strong>{{.Order.Reference}}</strong>{{if .Order.UpstreamOrderID}} (order {{.Order.UpstreamOrderID}}){{end}}</p>
<table>
{{range .Order.Items}}<tr><td>{{.ProductName}}</td><td>x{{.Quantity}}</td><td>{{amount $.Formatter .Total}}</td></tr>
{{end}}</table>
<p>Subtotal: {{amount .Formatter .Order.Subtotal}}<br>
Tax: {{amount .Formatter .Order.TaxAmount}}<br>
Delivery: {{amount .Formatter .Order.DeliveryCharges}}<br>
{{if .Order.DiscountAmount}}Discount: -{{amount .Formatter .Order.DiscountAmount}}<br>
{{end}}<strong>Total: {{amount .Formatter .Order.FinalAmount}}</strong></p>
<p>Branch: {{.Order.Branch}}<br>Payment: {{.Order.PaymentMethod}}<br>Deliver to: {{.Order.DeliveryAddress}}</p>`))

// EmailHandler processes order confirmation tasks.
type EmailHandler struct {
	Mail      Mailer
	Formatter *money.Formatter
	Replay    ReplayProtector
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h EmailHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p OrderConfirmation
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		obs.IncNotification("invalid")
		return fmt.Errorf("decode order confirmation: %v: %w", err, asynq.SkipRetry)
	}
	if p.Email == "" || h.Mail == nil {
		obs.IncNotification("skipped")
		return nil
	}
	logger := h.Logger.With().Str("reference", p.Reference).Logger()

	key := replayKey(p.Reference)
	if h.Replay != nil {
		ok, err := h.Replay.Acquire(ctx, key, sendLease)
		if err != nil {
			return fmt.Errorf("acquire replay guard: %w", err)
		}
		if !ok {
			obs.IncNotification("duplicate")
			logger.Info().Msg("confirmation already sent")
			return nil
		}
	}

	subject, body, err := h.render(p)
	if err == nil {
		err = h.Mail.Send(p.Email, subject, body)
	}
	if err != nil {
		if h.Replay != nil {
			_ = h.Replay.Release(ctx, key)
		}
		obs.IncNotification("failed")
		logger.Warn().Err(err).Msg("send order confirmation")
		return err
	}
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		if err := h.Replay.Confirm(ctx, key, ttl); err != nil {
			logger.Warn().Err(err).Msg("confirm replay guard")
		}
	}
	obs.IncNotification("sent")
	logger.Info().Msg("order confirmation sent")
	return nil
}

func (h EmailHandler) render(p OrderConfirmation) (string, string, error) {
	formatter := h.Formatter
	if formatter == nil || (p.Currency != "" && p.Currency != formatter.Currency()) {
		code := p.Currency
		if code == "" {
			code = "LKR"
		}
		f, err := money.NewFormatter(code, money.DefaultLanguage)
		if err != nil {
			return "", "", fmt.Errorf("currency formatter: %w", err)
		}
		formatter = f
	}
	var buf bytes.Buffer
	if err := confirmationTemplate.Execute(&buf, struct {
		Order     OrderConfirmation
		Formatter *money.Formatter
	}{p, formatter}); err != nil {
		return "", "", fmt.Errorf("render confirmation: %w", err)
	}
	return fmt.Sprintf("Your Pahana Edu order %s is confirmed", p.Reference), buf.String(), nil
}
