package broadcast

import (
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/botdesk/internal/metrics"
)

// Delivery is the outcome of one send attempt. A nil Err means the recipient was reached.
type Delivery struct {
	Recipient int64
	Err       error
}

// Tally is the folded result of a campaign's deliveries.
type Tally struct {
	Sent   int
	Failed int
}

// Total is the number of attempts folded into the tally.
func (t Tally) Total() int {
	return t.Sent + t.Failed
}

// Aggregator folds deliveries reported by concurrent workers into one Tally.
// A single goroutine owns the counters; workers only ever send on the channel.
type Aggregator struct {
	deliveries chan Delivery
	result     chan Tally
	logger     *zap.Logger
}

func NewAggregator(buffer int, logger *zap.Logger) *Aggregator {
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	aggregator := &Aggregator{
		deliveries: make(chan Delivery, buffer),
		result:     make(chan Tally, 1),
		logger:     logger,
	}
	go aggregator.run()
	return aggregator
}

func (a *Aggregator) run() {
	var tally Tally
	for delivery := range a.deliveries {
		if delivery.Err != nil {
			tally.Failed++
			a.logger.Debug("broadcast delivery failed",
				zap.Int64("recipient", delivery.Recipient),
				zap.Error(delivery.Err))
		} else {
			tally.Sent++
		}
		metrics.ObserveDelivery(delivery.Err == nil)
	}
	a.result <- tally
}

// Record reports one delivery. It must not be called after Close.
func (a *Aggregator) Record(delivery Delivery) {
	a.deliveries <- delivery
}

// Close stops accepting deliveries and returns the final tally once every
// recorded delivery has been folded.
func (a *Aggregator) Close() Tally {
	close(a.deliveries)
	return <-a.result
}
