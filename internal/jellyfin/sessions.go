package jellyfin

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/azuse/jellyfin-exporter/internal/logging"
)

const sessionsEndpoint = "/Sessions"

// Fetcher is the subset of the API the exporter scrapes.
type Fetcher interface {
	GetSessions(ctx context.Context) ([]Session, error)
	GetItemCounts(ctx context.Context) (ItemCounts, error)
}

var (
	_ Fetcher = (*Client)(nil)
	_ Fetcher = (*BreakerClient)(nil)
)

// GetSessions returns all sessions known to the server.
//
// Records are decoded one at a time. Fields with unexpected types default to
// their zero value; only a record that is not an object, or whose UserName
// is not a string, is dropped and logged.
func (c *Client) GetSessions(ctx context.Context) ([]Session, error) {
	var raw []json.RawMessage
	if err := c.get(ctx, sessionsEndpoint, &raw); err != nil {
		return nil, err
	}

	sessions, dropped := decodeSessions(raw)
	if dropped > 0 {
		c.logger.Warn("jellyfin", "Dropped undecodable session records",
			logging.F("dropped", dropped),
			logging.F("kept", len(sessions)))
	}
	c.logger.Debug("jellyfin", "Fetched sessions", logging.F("count", len(sessions)))

	return sessions, nil
}

func decodeSessions(raw []json.RawMessage) ([]Session, int) {
	sessions := make([]Session, 0, len(raw))
	dropped := 0
	for _, record := range raw {
		var s Session
		if err := json.Unmarshal(record, &s); err != nil {
			dropped++
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, dropped
}
