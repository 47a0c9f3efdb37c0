// Package mail delivers transactional email. The rest of the server only sees
// the Gateway interface; SMTPGateway talks to a relay and LogGateway stands in
// for it during local development.
package mail

import (
	"context"
	"errors"
	"log/slog"
)

// ErrDeliveryFailed wraps every error a Gateway returns.
var ErrDeliveryFailed = errors.New("mail delivery failed")

// Gateway sends a single HTML message. Implementations must honor ctx
// cancellation and deadlines.
type Gateway interface {
	Send(ctx context.Context, to, subject, bodyHTML string) error
}

// LogGateway records messages in the log instead of sending them.
type LogGateway struct {
	log *slog.Logger
}

// NewLogGateway returns a gateway that only logs.
func NewLogGateway(log *slog.Logger) *LogGateway {
	return &LogGateway{log: log}
}

// Send logs the recipient and subject; the body, which may hold a reset
// link, only appears at debug level.
func (g *LogGateway) Send(ctx context.Context, to, subject, bodyHTML string) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	g.log.InfoContext(ctx, "mail not sent: SMTP is not configured",
		slog.String("to", to),
		slog.String("subject", subject),
	)
	g.log.DebugContext(ctx, "suppressed mail body", slog.String("body", bodyHTML))
	return nil
}
