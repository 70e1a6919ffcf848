package jellyfin

import (
	"context"

	"github.com/azuse/jellyfin-exporter/internal/logging"
)

const itemCountsEndpoint = "/Items/Counts"

// GetItemCounts returns the library item counts per category, as reported
// by the server.
func (c *Client) GetItemCounts(ctx context.Context) (ItemCounts, error) {
	counts := ItemCounts{}
	if err := c.get(ctx, itemCountsEndpoint, &counts); err != nil {
		return nil, err
	}
	c.logger.Debug("jellyfin", "Fetched item counts", logging.F("categories", len(counts)))
	return counts, nil
}
