package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"time"

	"fleetnotify/internal/metrics"
)

type NotificationConfig struct {
	FromNumber        string
	PlaySoundURL      string
	RepeatedCalls     int
	CallStatusTimeout time.Duration
	PollInterval      time.Duration
}

// NotificationClient places a phone call and retries it until somebody
// picks up or the configured number of attempts is used.
type NotificationClient struct {
	telephony Telephony
	cfg       NotificationConfig
	logger    *slog.Logger
	metrics   *metrics.Registry
}

func NewNotificationClient(telephony Telephony, cfg NotificationConfig, logger *slog.Logger, m *metrics.Registry) *NotificationClient {
	if cfg.RepeatedCalls < 1 {
		cfg.RepeatedCalls = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &NotificationClient{telephony: telephony, cfg: cfg, logger: logger, metrics: m}
}

// IsTerminalCallStatus reports whether the call left the queued/ringing phase.
func IsTerminalCallStatus(status string) bool {
	switch status {
	case CallStatusInProgress, CallStatusCompleted, CallStatusBusy,
		CallStatusNoAnswer, CallStatusCanceled, CallStatusFailed:
		return true
	}
	return false
}

// CallPhone blocks until the call sequence for number finishes.
func (c *NotificationClient) CallPhone(ctx context.Context, number string, underTest bool) {
	if number == "" {
		c.logger.Warn("no phone number provided")
		return
	}
	if underTest {
		c.logger.Debug("car under test, call suppressed", "phone", number)
		return
	}

	for attempt := 1; attempt <= c.cfg.RepeatedCalls; attempt++ {
		c.logger.Info("calling phone number", "phone", number, "attempt", attempt)
		pickedUp, err := c.call(ctx, number)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("error while handling a call", "phone", number, "error", err)
			continue
		}
		if pickedUp {
			return
		}
	}
	c.logger.Warn("call not picked up", "phone", number, "attempts", c.cfg.RepeatedCalls)
}

func (c *NotificationClient) call(ctx context.Context, number string) (bool, error) {
	sid, err := c.telephony.PlaceCall(ctx, number, c.cfg.FromNumber, c.twiml())
	if err != nil {
		return false, fmt.Errorf("place call: %w", err)
	}
	c.metrics.CallsPlaced.Inc()

	start := time.Now()
	defer func() { c.metrics.CallWaitSeconds.Observe(time.Since(start).Seconds()) }()
	return c.waitForPickup(ctx, sid)
}

func (c *NotificationClient) twiml() string {
	return fmt.Sprintf(`<Response><Play loop="10">%s</Play></Response>`, html.EscapeString(c.cfg.PlaySoundURL))
}

// waitForPickup polls the call status. A timeout is inconclusive but not
// retried, so it reports true like any terminal status except no-answer.
func (c *NotificationClient) waitForPickup(ctx context.Context, sid string) (bool, error) {
	var waited time.Duration
	for {
		status, err := c.telephony.CallStatus(ctx, sid)
		if err != nil {
			return false, fmt.Errorf("call status: %w", err)
		}

		if IsTerminalCallStatus(status) {
			c.metrics.CallOutcomes.WithLabelValues(status).Inc()
			switch status {
			case CallStatusFailed:
				c.logger.Warn("call failed", "sid", sid)
				return true, nil
			case CallStatusNoAnswer:
				c.logger.Info("call not answered", "sid", sid)
				return false, nil
			default:
				return true, nil
			}
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		waited += c.cfg.PollInterval
		if waited > c.cfg.CallStatusTimeout {
			c.metrics.CallOutcomes.WithLabelValues("timeout").Inc()
			c.logger.Error("call polling timed out", "sid", sid, "status", status)
			return true, nil
		}
	}
}
