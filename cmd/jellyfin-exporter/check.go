package main

import (
	"fmt"
	"io"
	"os"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Scrape Jellyfin once and print the metrics",
		Long: `check performs a single scrape and writes the result to stdout in the
Prometheus text format. It exits non-zero when the scrape fails, which makes
it usable as a container health check or to verify configuration.`,
		RunE: runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}

	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("scrape failed: %w", err)
	}
	return writeFamilies(os.Stdout, families)
}

func writeFamilies(w io.Writer, families []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}
