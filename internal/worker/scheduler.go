// Package worker runs the background loops of the newsletter: the campaign
// scheduler that starts due sends and flags stuck ones.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
	"github.com/abc-bedarieux/newsletter/internal/service/sending"
)

const (
	DefaultSchedulerPollInterval = 30 * time.Second

	// DueBatchSize caps how many due campaigns one tick starts.
	DueBatchSize = 10

	// tickLockKey keeps two scheduler processes from scanning at once.
	tickLockKey = "newsletter:scheduler:tick"
)

// CampaignSource lists campaigns the scheduler acts on.
type CampaignSource interface {
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Campaign, error)
	StuckSending(ctx context.Context, cutoff time.Time) ([]domain.Campaign, error)
}

// Sender starts a send batch.
type Sender interface {
	Send(ctx context.Context, campaignID string) (*sending.Summary, error)
}

// LockFactory hands out distributed locks.
type LockFactory interface {
	For(key string) distlock.DistLock
}

// CampaignScheduler polls for scheduled campaigns whose time has come and
// runs their batch through the send orchestrator. Campaigns left in sending
// longer than stuckAfter are reported, never recovered automatically.
type CampaignScheduler struct {
	campaigns    CampaignSource
	sender       Sender
	locks        LockFactory
	workerID     string
	pollInterval time.Duration
	stuckAfter   time.Duration
	now          func() time.Time

	campaignsProcessed int64
	errors             int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.RWMutex
}

// NewCampaignScheduler creates a scheduler. locks may be nil when only one
// scheduler process runs.
func NewCampaignScheduler(campaigns CampaignSource, sender Sender, locks LockFactory) *CampaignScheduler {
	host, _ := os.Hostname()
	if locks == nil {
		locks = distlock.NewFactory(nil, nil, time.Minute)
	}
	return &CampaignScheduler{
		campaigns:    campaigns,
		sender:       sender,
		locks:        locks,
		workerID:     fmt.Sprintf("scheduler-%s-%d", host, time.Now().UnixNano()%10000),
		pollInterval: DefaultSchedulerPollInterval,
		stuckAfter:   time.Hour,
		now:          time.Now,
	}
}

// SetPollInterval overrides the default interval. Non-positive values are
// ignored.
func (cs *CampaignScheduler) SetPollInterval(d time.Duration) {
	if d > 0 {
		cs.pollInterval = d
	}
}

// SetStuckAfter sets how long a campaign may stay in sending before it is
// reported. The send lock TTL is a good value.
func (cs *CampaignScheduler) SetStuckAfter(d time.Duration) {
	if d > 0 {
		cs.stuckAfter = d
	}
}

// Start begins the polling loop.
func (cs *CampaignScheduler) Start() error {
	cs.mu.Lock()
	if cs.running {
		cs.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	cs.running = true
	cs.ctx, cs.cancel = context.WithCancel(context.Background())
	cs.mu.Unlock()

	logger.Info("campaign scheduler starting", "worker_id", cs.workerID, "poll_interval", cs.pollInterval.String())

	cs.wg.Add(1)
	go cs.schedulerLoop()
	return nil
}

// Stop cancels the loop and waits for the current tick. A batch in flight
// is interrupted and its campaign stays in sending.
func (cs *CampaignScheduler) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	cs.mu.Unlock()

	cs.cancel()
	cs.wg.Wait()
	logger.Info("campaign scheduler stopped",
		"campaigns_processed", atomic.LoadInt64(&cs.campaignsProcessed),
		"errors", atomic.LoadInt64(&cs.errors))
}

// Running reports whether the loop is active.
func (cs *CampaignScheduler) Running() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.running
}

func (cs *CampaignScheduler) schedulerLoop() {
	defer cs.wg.Done()

	ticker := time.NewTicker(cs.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			cs.Tick(cs.ctx)
		}
	}
}

// Tick runs one scheduling pass: it starts every due campaign, then reports
// stuck ones. It returns the number of campaigns whose batch ran.
func (cs *CampaignScheduler) Tick(ctx context.Context) int {
	lock := cs.locks.For(tickLockKey)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Warn("scheduler lock failed", "worker_id", cs.workerID, "error", err)
		atomic.AddInt64(&cs.errors, 1)
		return 0
	}
	if !acquired {
		logger.Debug("scheduler tick skipped, another worker holds the lock", "worker_id", cs.workerID)
		return 0
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("scheduler lock release failed", "error", err)
		}
	}()

	started := cs.processReadyCampaigns(ctx)
	cs.reportStuck(ctx)
	return started
}

func (cs *CampaignScheduler) processReadyCampaigns(ctx context.Context) int {
	due, err := cs.campaigns.DueScheduled(ctx, cs.now().UTC(), DueBatchSize)
	if err != nil {
		logger.Error("fetch due campaigns failed", "error", err)
		atomic.AddInt64(&cs.errors, 1)
		return 0
	}

	started := 0
	for _, c := range due {
		if ctx.Err() != nil {
			break
		}
		sum, err := cs.sender.Send(ctx, c.ID)
		switch {
		case errors.Is(err, sending.ErrAlreadySending), errors.Is(err, sending.ErrNotSendable):
			// Another process started it, or an admin changed it since the scan.
			logger.Debug("scheduled campaign skipped", "campaign_id", c.ID, "reason", err.Error())
			continue
		case err != nil:
			logger.Error("scheduled send failed", "campaign_id", c.ID, "error", err)
			atomic.AddInt64(&cs.errors, 1)
			continue
		}
		started++
		atomic.AddInt64(&cs.campaignsProcessed, 1)
		logger.Info("scheduled campaign sent", "campaign_id", c.ID,
			"sent", sum.Sent, "errors", sum.Errors, "interrupted", sum.Interrupted)
	}
	return started
}

func (cs *CampaignScheduler) reportStuck(ctx context.Context) {
	stuck, err := cs.campaigns.StuckSending(ctx, cs.now().UTC().Add(-cs.stuckAfter))
	if err != nil {
		logger.Warn("fetch stuck campaigns failed", "error", err)
		return
	}
	for _, c := range stuck {
		logger.Warn("campaign stuck in sending, needs operator follow-up",
			"campaign_id", c.ID, "title", c.Title, "since", c.UpdatedAt)
	}
}
