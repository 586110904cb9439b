// Package stats computes campaign statistics from the per-subscriber sent
// records. It never reads the cached counters on the campaign row.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

const (
	RecentFailuresLimit = 10
	RecentActivityLimit = 20
)

// Counts are computed from CampaignSent rows.
type Counts struct {
	Sent         int `json:"sent"`
	Delivered    int `json:"delivered"` // status delivered, opened or clicked
	Opened       int `json:"opened"`    // openedAt set
	Clicked      int `json:"clicked"`   // clickedAt set
	Failed       int `json:"failed"`
	Unsubscribed int `json:"unsubscribed"`
}

// Rates are integer percentages; a zero denominator yields 0.
type Rates struct {
	DeliveryRate    int `json:"deliveryRate"`    // delivered / sent
	OpenRate        int `json:"openRate"`        // opened / delivered
	ClickRate       int `json:"clickRate"`       // clicked / opened
	FailureRate     int `json:"failureRate"`     // failed / sent
	UnsubscribeRate int `json:"unsubscribeRate"` // unsubscribed / delivered
}

// Repository is the read model over CampaignSent.
type Repository interface {
	CampaignCounts(ctx context.Context, campaignID string) (Counts, error)
	RecentFailures(ctx context.Context, campaignID string, limit int) ([]domain.Failure, error)
	RecentActivity(ctx context.Context, campaignID string, limit int) ([]domain.Activity, error)
}

// CampaignGetter resolves the campaign so unknown IDs are reported as such.
type CampaignGetter interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

// CampaignStats is the admin statistics view of one campaign.
type CampaignStats struct {
	CampaignID     string                `json:"campaignId"`
	Title          string                `json:"title"`
	Subject        string                `json:"subject"`
	Status         domain.CampaignStatus `json:"status"`
	SentAt         *time.Time            `json:"sentAt,omitempty"`
	Counts         Counts                `json:"counts"`
	Rates          Rates                 `json:"rates"`
	RecentFailures []domain.Failure      `json:"recentFailures"`
	RecentActivity []domain.Activity     `json:"recentActivity"`
}

// Aggregator builds CampaignStats.
type Aggregator struct {
	campaigns CampaignGetter
	repo      Repository
}

func NewAggregator(campaigns CampaignGetter, repo Repository) *Aggregator {
	return &Aggregator{campaigns: campaigns, repo: repo}
}

// CampaignStats returns counts, rates and the bounded recent lists.
func (a *Aggregator) CampaignStats(ctx context.Context, campaignID string) (*CampaignStats, error) {
	c, err := a.campaigns.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := a.repo.CampaignCounts(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign counts: %w", err)
	}
	failures, err := a.repo.RecentFailures(ctx, campaignID, RecentFailuresLimit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	activity, err := a.repo.RecentActivity(ctx, campaignID, RecentActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	if failures == nil {
		failures = []domain.Failure{}
	}
	if activity == nil {
		activity = []domain.Activity{}
	}
	return &CampaignStats{
		CampaignID:     c.ID,
		Title:          c.Title,
		Subject:        c.Subject,
		Status:         c.Status,
		SentAt:         c.SentAt,
		Counts:         counts,
		Rates:          ComputeRates(counts),
		RecentFailures: limit(failures, RecentFailuresLimit),
		RecentActivity: limit(activity, RecentActivityLimit),
	}, nil
}

// ComputeRates derives the percentages from counts.
func ComputeRates(c Counts) Rates {
	return Rates{
		DeliveryRate:    Percent(c.Delivered, c.Sent),
		OpenRate:        Percent(c.Opened, c.Delivered),
		ClickRate:       Percent(c.Clicked, c.Opened),
		FailureRate:     Percent(c.Failed, c.Sent),
		UnsubscribeRate: Percent(c.Unsubscribed, c.Delivered),
	}
}

// Percent is round(100*n/d), or 0 when d is 0.
func Percent(n, d int) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(n) / float64(d)))
}

func limit[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}
