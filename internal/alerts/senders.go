package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/propsignal/backend/internal/apperr"
	"github.com/propsignal/backend/internal/circuitbreaker"
	"github.com/propsignal/backend/internal/domain"
)

// Sender delivers one alert over a single channel.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, alert *domain.Alert) error
}

// Broadcaster pushes frames to connected browser clients. The websocket
// hub implements it.
type Broadcaster interface {
	Send(userID string, frame []byte) bool
}

// DevBrowserSender pushes the alert payload to the user's open browser
// connections.
type DevBrowserSender struct {
	hub Broadcaster
}

func NewDevBrowserSender(hub Broadcaster) *DevBrowserSender {
	return &DevBrowserSender{hub: hub}
}

func (s *DevBrowserSender) Channel() domain.Channel { return domain.ChannelDevBrowser }

func (s *DevBrowserSender) Send(_ context.Context, alert *domain.Alert) error {
	frame, err := json.Marshal(map[string]interface{}{
		"type":    "alert",
		"alertId": alert.ID,
		"payload": alert.Payload,
	})
	if err != nil {
		return fmt.Errorf("marshal alert frame: %w", err)
	}
	if !s.hub.Send(alert.UserID, frame) {
		// No open connection; the retry sweep re-attempts later.
		return apperr.Transient(fmt.Errorf("user %s not connected", alert.UserID))
	}
	return nil
}

// LogSender stands in for the email and SMS transports in development:
// deliveries are logged, never sent.
type LogSender struct {
	channel domain.Channel
	log     zerolog.Logger
}

func NewLogSender(channel domain.Channel, log zerolog.Logger) *LogSender {
	return &LogSender{channel: channel, log: log}
}

func (s *LogSender) Channel() domain.Channel { return s.channel }

func (s *LogSender) Send(_ context.Context, alert *domain.Alert) error {
	s.log.Info().
		Str("channel", string(s.channel)).
		Str("user", alert.UserID).
		Str("entity", alert.ListingID).
		Float64("price", alert.Payload.Snapshot.Price).
		Msg("alert delivered")
	return nil
}

// SlackSender posts the alert to an incoming webhook. A circuit breaker
// absorbs webhook outages: while open, sends fail fast as transient and
// the retry sweep picks them up later.
type SlackSender struct {
	webhookURL string
	client     *http.Client
	breaker    *circuitbreaker.Breaker
}

func NewSlackSender(webhookURL string, log zerolog.Logger) *SlackSender {
	return &SlackSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		breaker:    circuitbreaker.New("slack", circuitbreaker.Config{}, log),
	}
}

func (s *SlackSender) Channel() domain.Channel { return domain.ChannelSlack }

func (s *SlackSender) Send(ctx context.Context, alert *domain.Alert) error {
	err := s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.post(ctx, alert)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return apperr.Transient(err)
	}
	return err
}

func (s *SlackSender) post(ctx context.Context, alert *domain.Alert) error {
	snap := alert.Payload.Snapshot
	m := alert.Payload.Metrics
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("Deal alert: %s %s in %s at $%.0f (DSCR %.2f, CoC %.2f%%, cap %.2f%%)",
			snap.PropertyType, snap.ListingID, snap.City, snap.Price,
			m.DSCR, m.CashOnCashPct, m.CapRatePct),
	})
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.Transient(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.Transient(fmt.Errorf("slack webhook status %d", resp.StatusCode))
	}
	return nil
}
