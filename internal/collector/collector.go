package collector

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/azuse/jellyfin-exporter/internal/jellyfin"
	"github.com/azuse/jellyfin-exporter/internal/logging"
)

var (
	namespace = "jellyfin"

	instanceLabel = "jellyfin_instance"

	activeUsersDescName = "active_users"
	activeUsersDescHelp = "Jellyfin active user sessions"

	activeUsersCountDescName = "active_users_count"
	activeUsersCountDescHelp = "Jellyfin active user count"

	activeStreamsCountDescName = "active_streams_count"
	activeStreamsCountDescHelp = "Jellyfin active streams count"

	activeStreamsDirectDescName = "active_streams_direct_count"
	activeStreamsDirectDescHelp = "Jellyfin active streams count (direct)"

	activeStreamsTranscodeDescName = "active_streams_transcode_count"
	activeStreamsTranscodeDescHelp = "Jellyfin active streams count (transcode)"

	itemCountsDescName           = "item_counts"
	itemCountsDescHelp           = "Jellyfin items counts"
	itemCountsDescVariableLabels = []string{"type", instanceLabel}
)

const defaultScrapeTimeout = 10 * time.Second

// Snapshot is everything one scrape exports.
type Snapshot struct {
	Observations []Observation
	Counters     Counters
	ItemCounts   jellyfin.ItemCounts
}

// Build turns raw API data into a snapshot.
func Build(sessions []jellyfin.Session, counts jellyfin.ItemCounts) Snapshot {
	obs := slices.Collect(observations(sessions))
	return Snapshot{
		Observations: obs,
		Counters:     Aggregate(slices.Values(obs)),
		ItemCounts:   counts,
	}
}

// observations yields one observation per user session, skipping the rest.
func observations(sessions []jellyfin.Session) iter.Seq[Observation] {
	return func(yield func(Observation) bool) {
		for _, s := range sessions {
			o, ok := Extract(s)
			if !ok {
				continue
			}
			if !yield(o) {
				return
			}
		}
	}
}

// Collector exports the live state of one Jellyfin server. Every Collect
// fetches fresh data; nothing is kept between scrapes.
type Collector struct {
	fetcher  jellyfin.Fetcher
	instance string
	timeout  time.Duration
	logger   *logging.Logger

	// Descriptors
	activeUsersDesc            *prometheus.Desc
	activeUsersCountDesc       *prometheus.Desc
	activeStreamsCountDesc     *prometheus.Desc
	activeStreamsDirectDesc    *prometheus.Desc
	activeStreamsTranscodeDesc *prometheus.Desc
	itemCountsDesc             *prometheus.Desc
}

type Option func(*Collector)

// WithTimeout bounds the time one scrape may spend fetching from the server.
func WithTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a collector for the server behind fetcher. instance is the
// value of the jellyfin_instance label, normally the server's base URL.
func New(fetcher jellyfin.Fetcher, instance string, opts ...Option) *Collector {
	instanceOnly := []string{instanceLabel}

	c := &Collector{
		fetcher:  fetcher,
		instance: instance,
		timeout:  defaultScrapeTimeout,
		logger:   logging.Nop(),

		// Descriptors
		activeUsersDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", activeUsersDescName),
			activeUsersDescHelp, append(slices.Clone(sessionLabels), instanceLabel), nil,
		),
		activeUsersCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", activeUsersCountDescName),
			activeUsersCountDescHelp, instanceOnly, nil,
		),
		activeStreamsCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", activeStreamsCountDescName),
			activeStreamsCountDescHelp, instanceOnly, nil,
		),
		activeStreamsDirectDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", activeStreamsDirectDescName),
			activeStreamsDirectDescHelp, instanceOnly, nil,
		),
		activeStreamsTranscodeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", activeStreamsTranscodeDescName),
			activeStreamsTranscodeDescHelp, instanceOnly, nil,
		),
		itemCountsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", itemCountsDescName),
			itemCountsDescHelp, itemCountsDescVariableLabels, nil,
		),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.activeUsersDesc
	descs <- c.activeUsersCountDesc
	descs <- c.activeStreamsCountDesc
	descs <- c.activeStreamsDirectDesc
	descs <- c.activeStreamsTranscodeDesc
	descs <- c.itemCountsDesc
}

// Collect emits either the complete snapshot or, when any fetch fails, a
// single invalid metric carrying the error. Partial snapshots are never
// emitted.
func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	start := time.Now()
	snap, err := c.Scrape(ctx)
	if err != nil {
		c.logger.Error("collector", "Scrape failed", err, logging.F("instance", c.instance))
		metrics <- prometheus.NewInvalidMetric(c.activeUsersDesc, err)
		return
	}

	c.logger.Debug("collector", "Scrape completed",
		logging.F("instance", c.instance),
		logging.F("sessions", snap.Counters.Sessions),
		logging.F("streams", snap.Counters.Streams),
		logging.F("elapsed", time.Since(start)))

	c.emit(snap, metrics)
}

// Scrape fetches sessions, then item counts, and builds the snapshot.
func (c *Collector) Scrape(ctx context.Context) (Snapshot, error) {
	sessions, err := c.fetcher.GetSessions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collecting sessions: %w", err)
	}

	counts, err := c.fetcher.GetItemCounts(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("collecting item counts: %w", err)
	}

	return Build(sessions, counts), nil
}

func (c *Collector) emit(snap Snapshot, metrics chan<- prometheus.Metric) {
	instance := labelValue(c.instance)

	// Identical sessions (two idle tabs of one browser) share a label set;
	// the registry rejects duplicate series, so each set is emitted once.
	seen := make(map[string]struct{}, len(snap.Observations))
	for _, o := range snap.Observations {
		labels := append(o.LabelValues(), instance)
		key := strings.Join(labels, "\xff")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		metrics <- prometheus.MustNewConstMetric(c.activeUsersDesc, prometheus.GaugeValue, 1, labels...)
	}

	counters := snap.Counters
	metrics <- prometheus.MustNewConstMetric(c.activeUsersCountDesc, prometheus.GaugeValue, float64(counters.Sessions), instance)
	metrics <- prometheus.MustNewConstMetric(c.activeStreamsCountDesc, prometheus.GaugeValue, float64(counters.Streams), instance)
	metrics <- prometheus.MustNewConstMetric(c.activeStreamsDirectDesc, prometheus.GaugeValue, float64(counters.Direct), instance)
	metrics <- prometheus.MustNewConstMetric(c.activeStreamsTranscodeDesc, prometheus.GaugeValue, float64(counters.Transcode), instance)

	// Two invalid category names can map to the same sanitised label.
	categories := make(map[string]struct{}, len(snap.ItemCounts))
	for category, count := range snap.ItemCounts {
		category = labelValue(category)
		if _, dup := categories[category]; dup {
			continue
		}
		categories[category] = struct{}{}
		metrics <- prometheus.MustNewConstMetric(c.itemCountsDesc, prometheus.GaugeValue, count, category, instance)
	}
}
