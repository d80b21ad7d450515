// Package notify delivers best-effort notifications about reservations to
// guests and staff.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

const (
	FunctionReservationNotification = "send-reservation-notification"
	FunctionBusinessNotification    = "send-business-notification"
)

// Notification kinds sent to the functions.
const (
	KindCreated       = "created"
	KindStatusChanged = "status_changed"
	KindCheckedIn     = "checked_in"
)

// FunctionsConfig configures the serverless functions client.
type FunctionsConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSecond bounds outgoing invocations. Zero means 10.
	RatePerSecond float64
}

// Functions invokes notification functions over HTTP.
type Functions struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

// ReservationPayload is the body sent to the notification functions.
type ReservationPayload struct {
	Kind             string `json:"type"`
	ReservationID    string `json:"reservation_id"`
	BusinessID       string `json:"business_id"`
	EventID          string `json:"event_id,omitempty"`
	Status           string `json:"status"`
	GuestName        string `json:"guest_name"`
	GuestEmail       string `json:"guest_email,omitempty"`
	PartySize        int    `json:"party_size"`
	Date             string `json:"reservation_date"`
	SlotTime         string `json:"slot_time,omitempty"`
	PreferredTime    string `json:"preferred_time"`
	ConfirmationCode string `json:"confirmation_code"`
}

func NewFunctions(cfg FunctionsConfig, logger *zerolog.Logger) *Functions {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 10
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
		client.SetHeader("apikey", cfg.APIKey)
	}

	burst := int(cfg.RatePerSecond)
	if burst < 1 {
		burst = 1
	}
	l := logger.With().Str("component", "functions").Logger()
	return &Functions{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst),
		logger:  &l,
	}
}

// Invoke calls the named function with payload as JSON.
func (f *Functions) Invoke(ctx context.Context, name string, payload interface{}) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post("/" + name)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", name, err)
	}
	if resp.IsError() {
		return fmt.Errorf("invoke %s: status %d: %s", name, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}

func (f *Functions) ReservationCreated(ctx context.Context, r *model.Reservation) {
	payload := reservationPayload(KindCreated, r)
	f.bestEffort(ctx, FunctionReservationNotification, payload)
	f.bestEffort(ctx, FunctionBusinessNotification, payload)
}

func (f *Functions) ReservationStatusChanged(ctx context.Context, r *model.Reservation) {
	f.bestEffort(ctx, FunctionReservationNotification, reservationPayload(KindStatusChanged, r))
}

func (f *Functions) CheckedIn(ctx context.Context, r *model.Reservation) {
	f.bestEffort(ctx, FunctionBusinessNotification, reservationPayload(KindCheckedIn, r))
}

func (f *Functions) bestEffort(ctx context.Context, name string, payload ReservationPayload) {
	if err := f.Invoke(ctx, name, payload); err != nil {
		metrics.IncNotification("functions", "failed")
		f.logger.Warn().Err(err).
			Str("function", name).
			Str("reservation_id", payload.ReservationID).
			Msg("Notification failed")
		return
	}
	metrics.IncNotification("functions", "sent")
}

func reservationPayload(kind string, r *model.Reservation) ReservationPayload {
	p := ReservationPayload{
		Kind:             kind,
		ReservationID:    r.ID,
		BusinessID:       r.BusinessID,
		Status:           string(r.Status),
		GuestName:        r.GuestName,
		GuestEmail:       r.GuestEmail,
		PartySize:        r.PartySize,
		Date:             r.ReservationDate,
		SlotTime:         r.SlotTime,
		PreferredTime:    r.PreferredTime.UTC().Format(time.RFC3339),
		ConfirmationCode: r.ConfirmationCode,
	}
	if r.EventID != nil {
		p.EventID = *r.EventID
	}
	return p
}
