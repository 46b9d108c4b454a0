package notifier

import (
	"context"

	"github.com/rs/zerolog"
)

// LogChannel writes notifications to the log. It stands in for email and
// SMS delivery, which are not implemented.
type LogChannel struct {
	name   string
	logger zerolog.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(name string, logger zerolog.Logger) *LogChannel {
	return &LogChannel{name: name, logger: logger.With().Str("channel", name).Logger()}
}

// Name returns the channel name
func (c *LogChannel) Name() string {
	return c.name
}

// Send logs the formatted notification
func (c *LogChannel) Send(ctx context.Context, n Notification) error {
	title, body := FormatMessage(n)
	c.logger.Info().
		Str("user_id", n.Event.UserID).
		Str("alert_id", n.Event.AlertID).
		Str("title", title).
		Str("body", body).
		Msg("Notification")
	return nil
}
