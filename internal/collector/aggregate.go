package collector

import "iter"

// Counters are the per-instance totals of one scrape.
type Counters struct {
	Sessions  int
	Streams   int
	Direct    int
	Transcode int
}

// Add folds one observation into the counters.
func (c *Counters) Add(o Observation) {
	c.Sessions++
	switch o.Stream {
	case StreamDirect:
		c.Streams++
		c.Direct++
	case StreamTranscode:
		c.Streams++
		c.Transcode++
	}
}

// Aggregate counts a sequence of observations.
func Aggregate(seq iter.Seq[Observation]) Counters {
	var c Counters
	for o := range seq {
		c.Add(o)
	}
	return c
}
