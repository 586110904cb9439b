package sending

import (
	"context"
	"sync"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// run sends to subs and records each outcome in subscriber order. With
// Concurrency > 1, rendering and transport calls fan out to a bounded
// worker pool; each job has its own result channel so the collecting loop
// stays ordered and is the only writer of the summary and the store.
func (o *Orchestrator) run(ctx context.Context, b *batch, subs []domain.Subscriber, sum *Summary) {
	workers := o.cfg.Concurrency
	if workers > len(subs) {
		workers = len(subs)
	}
	if workers <= 1 {
		for i := range subs {
			if !o.eligible(b, &subs[i], sum) {
				continue
			}
			out := o.dispatch(ctx, b, &subs[i])
			o.apply(ctx, b, out, sum)
			if out.skipped {
				return
			}
		}
		return
	}

	results := make([]chan outcome, len(subs))
	for i := range results {
		results[i] = make(chan outcome, 1)
	}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] <- o.dispatch(ctx, b, &subs[i])
			}
		}()
	}

	// Feeder. Jobs it never hands out get their channel closed so the
	// collector does not wait on them.
	go func() {
		defer close(jobs)
		for i := range subs {
			if !o.eligible(b, &subs[i], nil) {
				close(results[i])
				continue
			}
			select {
			case jobs <- i:
			case <-ctx.Done():
				for j := i; j < len(subs); j++ {
					close(results[j])
				}
				return
			}
		}
	}()

	for i := range subs {
		out, ok := <-results[i]
		if !ok {
			if ctx.Err() != nil {
				sum.Interrupted = true
			} else {
				sum.Skipped++
			}
			continue
		}
		o.apply(ctx, b, out, sum)
	}
	wg.Wait()
}

// eligible re-checks receivability; the source query already filters, so
// a miss here means the row changed since it was listed. sum is nil when
// called off the collecting goroutine.
func (o *Orchestrator) eligible(b *batch, s *domain.Subscriber, sum *Summary) bool {
	if s.Receivable() && s.Preferences.Matches(b.campaign.Audience) {
		return true
	}
	if sum != nil {
		sum.Skipped++
	}
	logger.Debug("subscriber skipped", "campaign_id", b.campaign.ID, "subscriber_id", s.ID)
	return false
}
