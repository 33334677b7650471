package booking

import (
	"context"
	"log"
	"time"
)

const defaultRefreshInterval = 30 * time.Second

// Refresher polls the reservation list on a fixed interval so the view
// converges on the stored truth without any local patching.
type Refresher struct {
	Flow     *Flow
	Interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewRefresher(flow *Flow, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &Refresher{
		Flow:     flow,
		Interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start refreshes once immediately, then keeps refreshing until Stop or
// context cancellation. Refresh failures are logged and the loop carries
// on; the next tick gets another chance.
func (r *Refresher) Start(ctx context.Context) {
	go r.run(ctx)
}

func (r *Refresher) run(ctx context.Context) {
	defer close(r.done)
	if err := r.Flow.RefreshReservations(ctx); err != nil {
		log.Printf("refresh reservations: %v", err)
	}
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.Flow.RefreshReservations(ctx); err != nil {
				log.Printf("refresh reservations: %v", err)
			}
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (r *Refresher) Stop() {
	close(r.stop)
	<-r.done
}
