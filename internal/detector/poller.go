package detector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Poller sweeps the whole watchlist on a fixed interval using a worker pool
type Poller struct {
	detector *Detector
	interval time.Duration
	workers  int
	stopChan chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// UsePoller attaches an interval-sweep driver to the detector
func (d *Detector) UsePoller(interval time.Duration, workers int) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	p := &Poller{
		detector: d,
		interval: interval,
		workers:  workers,
		logger:   d.logger.With().Str("driver", "poller").Logger(),
	}
	d.driver = p
	return p
}

func (p *Poller) start() {
	p.stopChan = make(chan struct{})
	p.wg.Add(1)
	go p.runLoop()
	p.logger.Info().Dur("interval", p.interval).Int("workers", p.workers).Msg("polling driver started")
}

func (p *Poller) stop() {
	close(p.stopChan)
	p.wg.Wait()
}

// The poller reads the watchlist fresh each sweep; membership changes need
// no bookkeeping here
func (p *Poller) watch(symbol string)   {}
func (p *Poller) unwatch(symbol string) {}

func (p *Poller) runLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Run immediately
	p.sweep()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopChan:
			return
		}
	}
}

// sweep analyzes every watched symbol once, fanned across the worker pool
func (p *Poller) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	symbols := p.detector.Watchlist()
	if len(symbols) == 0 {
		return
	}

	start := time.Now()
	symbolChan := make(chan string, len(symbols))
	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range symbolChan {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if _, err := p.detector.AnalyzeSymbol(ctx, symbol); err != nil {
					p.logger.Warn().Err(err).Str("symbol", symbol).Msg("sweep analysis failed")
				}
			}
		}()
	}

	for _, symbol := range symbols {
		symbolChan <- symbol
	}
	close(symbolChan)
	wg.Wait()

	p.logger.Debug().
		Int("symbols", len(symbols)).
		Dur("duration", time.Since(start)).
		Msg("sweep completed")
}
