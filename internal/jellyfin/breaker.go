package jellyfin

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/azuse/jellyfin-exporter/internal/logging"
)

type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed requests that
	// opens the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before letting a probe
	// request through.
	Cooldown time.Duration
	Logger   *logging.Logger
}

// BreakerClient fails scrapes fast while the server is known to be down,
// instead of waiting out the request timeout on every scrape. It never
// retries and never serves old data.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[any]
}

func NewBreakerClient(client *Client, cfg BreakerConfig) *BreakerClient {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Nop()
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "jellyfin-api",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("jellyfin", "Circuit breaker state changed",
				logging.F("breaker", name),
				logging.F("from", from.String()),
				logging.F("to", to.String()))
		},
	})

	return &BreakerClient{client: client, cb: cb}
}

// State reports the breaker state (closed, half-open, open).
func (b *BreakerClient) State() string {
	return b.cb.State().String()
}

func (b *BreakerClient) execute(endpoint string, fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	return result, err
}

func (b *BreakerClient) GetSessions(ctx context.Context) ([]Session, error) {
	result, err := b.execute(sessionsEndpoint, func() (any, error) {
		return b.client.GetSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	sessions, _ := result.([]Session)
	return sessions, nil
}

func (b *BreakerClient) GetItemCounts(ctx context.Context) (ItemCounts, error) {
	result, err := b.execute(itemCountsEndpoint, func() (any, error) {
		return b.client.GetItemCounts(ctx)
	})
	if err != nil {
		return nil, err
	}
	counts, _ := result.(ItemCounts)
	return counts, nil
}
