package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// TelegramSender is the part of the bot API used for staff alerts.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// BusinessLookup resolves a business's staff chat.
type BusinessLookup interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
}

// RetryConfig holds configuration for retry logic.
type RetryConfig struct {
	MaxRetries  int
	RetryDelays []time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		RetryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Telegram posts staff alerts and documents to Telegram chats.
type Telegram struct {
	sender      TelegramSender
	businesses  BusinessLookup
	adminChatID int64
	limiter     *rate.Limiter
	retry       RetryConfig
	logger      *zerolog.Logger
}

func NewTelegram(sender TelegramSender, businesses BusinessLookup, adminChatID int64, logger *zerolog.Logger) *Telegram {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "telegram").Logger()
	return &Telegram{
		sender:      sender,
		businesses:  businesses,
		adminChatID: adminChatID,
		// Telegram allows about 30 messages per second per bot.
		limiter: rate.NewLimiter(20, 30),
		retry:   DefaultRetryConfig(),
		logger:  &l,
	}
}

// WithRetry overrides the retry schedule.
func (t *Telegram) WithRetry(cfg RetryConfig) *Telegram {
	t.retry = cfg
	return t
}

func (t *Telegram) send(ctx context.Context, c tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt <= t.retry.MaxRetries; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := t.sender.Send(c)
		if err == nil {
			metrics.IncNotification("telegram", "sent")
			return nil
		}
		lastErr = err

		delay, retryable := t.retryDelay(err, attempt)
		if !retryable || attempt == t.retry.MaxRetries {
			break
		}
		t.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("Telegram send failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	metrics.IncNotification("telegram", "failed")
	return lastErr
}

func (t *Telegram) retryDelay(err error, attempt int) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.RetryAfter > 0 {
			return time.Duration(tgErr.RetryAfter) * time.Second, true
		}
		// bad request, forbidden, chat not found
		if tgErr.Code >= 400 && tgErr.Code < 500 && tgErr.Code != 429 {
			return 0, false
		}
	}
	if len(t.retry.RetryDelays) == 0 {
		return time.Second, true
	}
	if attempt >= len(t.retry.RetryDelays) {
		return t.retry.RetryDelays[len(t.retry.RetryDelays)-1], true
	}
	return t.retry.RetryDelays[attempt], true
}

func (t *Telegram) staffChat(ctx context.Context, businessID string) int64 {
	if t.businesses != nil && businessID != "" {
		b, err := t.businesses.GetBusiness(ctx, businessID)
		if err == nil && b.StaffChatID != 0 {
			return b.StaffChatID
		}
	}
	return t.adminChatID
}

// NotifyStaff sends text to the business's staff chat, or the admin chat if
// the business has none.
func (t *Telegram) NotifyStaff(ctx context.Context, businessID, text string) error {
	chatID := t.staffChat(ctx, businessID)
	if chatID == 0 {
		return nil
	}
	return t.send(ctx, tgbotapi.NewMessage(chatID, text))
}

func (t *Telegram) ReservationCreated(ctx context.Context, r *model.Reservation) {
	text := fmt.Sprintf("New reservation %s: %s, party of %d, %s %s",
		r.ConfirmationCode, r.GuestName, r.PartySize, r.ReservationDate, r.SlotTime)
	t.bestEffort(ctx, r.BusinessID, text)
}

func (t *Telegram) ReservationStatusChanged(ctx context.Context, r *model.Reservation) {
	if r.Status != model.StatusCancelled {
		return
	}
	text := fmt.Sprintf("Reservation %s cancelled: %s, %s %s",
		r.ConfirmationCode, r.GuestName, r.ReservationDate, r.SlotTime)
	t.bestEffort(ctx, r.BusinessID, text)
}

// ReservationsAutoDisabled tells staff that deleting the last slot turned
// reservations off.
func (t *Telegram) ReservationsAutoDisabled(ctx context.Context, businessID string) {
	t.bestEffort(ctx, businessID, "Reservations were turned off because no time slots are left.")
}

func (t *Telegram) bestEffort(ctx context.Context, businessID, text string) {
	if err := t.NotifyStaff(ctx, businessID, text); err != nil {
		t.logger.Warn().Err(err).Str("business_id", businessID).Msg("Staff alert failed")
	}
}

// SendDocument sends a file to the admin chat.
func (t *Telegram) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	if t.adminChatID == 0 {
		return fmt.Errorf("telegram admin chat is not configured")
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	doc := tgbotapi.NewDocument(t.adminChatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
	doc.Caption = caption
	return t.send(ctx, doc)
}
