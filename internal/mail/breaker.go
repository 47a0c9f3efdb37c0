package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerGateway stops calling a relay that keeps failing. While the breaker
// is open, Send fails immediately instead of waiting out the send timeout.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerGateway trips after failures consecutive errors and lets one
// send through to the relay again once cooldown has passed.
func NewBreakerGateway(next Gateway, failures uint32, cooldown time.Duration, log *slog.Logger) *BreakerGateway {
	st := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A caller hanging up says nothing about the relay. A send that runs
		// out its deadline still counts as a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("mail circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (g *BreakerGateway) Send(ctx context.Context, to, subject, bodyHTML string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Send(ctx, to, subject, bodyHTML)
	})
	if err == nil || errors.Is(err, ErrDeliveryFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
}
