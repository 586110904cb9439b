package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/distlock"
	"github.com/abc-bedarieux/newsletter/internal/service/sending"
)

type fakeCampaigns struct {
	due      []domain.Campaign
	stuck    []domain.Campaign
	dueErr   error
	cutoff   time.Time
	dueCalls int
}

func (f *fakeCampaigns) DueScheduled(_ context.Context, _ time.Time, limit int) ([]domain.Campaign, error) {
	f.dueCalls++
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeCampaigns) StuckSending(_ context.Context, cutoff time.Time) ([]domain.Campaign, error) {
	f.cutoff = cutoff
	return f.stuck, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	errs map[string]error
}

func (f *fakeSender) Send(_ context.Context, id string) (*sending.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	f.sent = append(f.sent, id)
	return &sending.Summary{CampaignID: id, Sent: 1}, nil
}

func TestTick_SendsDueCampaigns(t *testing.T) {
	repo := &fakeCampaigns{due: []domain.Campaign{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	sender := &fakeSender{errs: map[string]error{
		"b": sending.ErrAlreadySending,
		"c": errors.New("transport down"),
	}}
	cs := NewCampaignScheduler(repo, sender, nil)

	if got := cs.Tick(context.Background()); got != 1 {
		t.Errorf("Tick() = %d, want 1", got)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "a" {
		t.Errorf("sent = %v, want [a]", sender.sent)
	}
	if cs.errors != 1 {
		t.Errorf("errors = %d, want 1 (already sending is not an error)", cs.errors)
	}
}

func TestTick_StuckCutoffUsesStuckAfter(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeCampaigns{stuck: []domain.Campaign{{ID: "s", Status: domain.CampaignSending}}}
	cs := NewCampaignScheduler(repo, &fakeSender{}, nil)
	cs.now = func() time.Time { return now }
	cs.SetStuckAfter(30 * time.Minute)

	cs.Tick(context.Background())

	if want := now.Add(-30 * time.Minute); !repo.cutoff.Equal(want) {
		t.Errorf("cutoff = %v, want %v", repo.cutoff, want)
	}
}

func TestTick_FetchError(t *testing.T) {
	repo := &fakeCampaigns{dueErr: errors.New("db down")}
	cs := NewCampaignScheduler(repo, &fakeSender{}, nil)

	if got := cs.Tick(context.Background()); got != 0 {
		t.Errorf("Tick() = %d, want 0", got)
	}
	if cs.errors != 1 {
		t.Errorf("errors = %d, want 1", cs.errors)
	}
}

func TestTick_SkipsWhenLockHeld(t *testing.T) {
	locks := distlock.NewFactory(nil, nil, time.Minute)
	held := locks.For(tickLockKey)
	ok, err := held.Acquire(context.Background())
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}
	defer held.Release(context.Background())

	repo := &fakeCampaigns{due: []domain.Campaign{{ID: "a"}}}
	cs := NewCampaignScheduler(repo, &fakeSender{}, locks)

	if got := cs.Tick(context.Background()); got != 0 {
		t.Errorf("Tick() = %d, want 0", got)
	}
	if repo.dueCalls != 0 {
		t.Errorf("DueScheduled called %d times while locked", repo.dueCalls)
	}
}

func TestCampaignScheduler_StartStop(t *testing.T) {
	cs := NewCampaignScheduler(&fakeCampaigns{}, &fakeSender{}, nil)
	cs.SetPollInterval(10 * time.Millisecond)

	if err := cs.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if !cs.Running() {
		t.Error("scheduler should be running after Start()")
	}
	if err := cs.Start(); err == nil {
		t.Error("double Start() should return error")
	}

	time.Sleep(30 * time.Millisecond)
	cs.Stop()

	if cs.Running() {
		t.Error("scheduler should not be running after Stop()")
	}
	cs.Stop()
}
