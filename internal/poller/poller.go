package poller

import (
	"context"
	"time"

	"thermoboard-agent/internal/logger"
	"thermoboard-agent/internal/sensor"

	"github.com/rs/zerolog"
)

// Measurer is the part of the registry the poller drives.
type Measurer interface {
	MeasureAll(ctx context.Context) error
	Sensors(connectedOnly bool) []sensor.Info
}

// Sink receives the connected sensors after each round.
type Sink interface {
	Publish(ctx context.Context, readings []sensor.Info) error
}

// Poller measures every board on a fixed interval.
type Poller struct {
	m        Measurer
	sink     Sink
	interval time.Duration
	log      zerolog.Logger
}

// New returns a poller. sink may be nil.
func New(m Measurer, sink Sink, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		m:        m,
		sink:     sink,
		interval: interval,
		log:      logger.Component(log, "poller"),
	}
}

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one measurement round and hands the readings to the sink.
// Measurement failures are logged; readings from healthy boards are still
// published. Publishing is bounded by the poll interval.
func (p *Poller) Poll(ctx context.Context) {
	if err := p.m.MeasureAll(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn().Err(err).Msg("measurement round had failures")
	}
	if p.sink == nil {
		return
	}

	var readings []sensor.Info
	for _, s := range p.m.Sensors(true) {
		if s.Value != nil {
			readings = append(readings, s)
		}
	}
	if len(readings) == 0 {
		return
	}
	// a sink stuck on an unreachable broker must not hold up the next round
	pubCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()
	if err := p.sink.Publish(pubCtx, readings); err != nil {
		p.log.Warn().Err(err).Int("readings", len(readings)).Msg("publish failed")
	}
}
