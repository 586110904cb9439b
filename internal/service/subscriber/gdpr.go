package subscriber

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// GDPRAction is one of the data-subject requests.
type GDPRAction string

const (
	GDPRExport    GDPRAction = "export"
	GDPRDelete    GDPRAction = "delete"
	GDPRAnonymize GDPRAction = "anonymize"
)

// GDPRRequest is the public request body.
type GDPRRequest struct {
	Email  string     `json:"email" validate:"required,email"`
	Action GDPRAction `json:"action" validate:"required,oneof=export delete anonymize"`
}

// Export is every personal field stored for a subscriber.
type Export struct {
	ID             string             `json:"id"`
	Email          string             `json:"email"`
	FirstName      string             `json:"firstName"`
	LastName       string             `json:"lastName"`
	IsActive       bool               `json:"isActive"`
	IsVerified     bool               `json:"isVerified"`
	Preferences    domain.Preferences `json:"preferences"`
	SubscribedAt   time.Time          `json:"subscribedAt"`
	VerifiedAt     *time.Time         `json:"verifiedAt"`
	UnsubscribedAt *time.Time         `json:"unsubscribedAt"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	ExportedAt     time.Time          `json:"exportedAt"`
}

// GDPRResult is the action-specific payload.
type GDPRResult struct {
	Action  GDPRAction `json:"action"`
	Message string     `json:"message"`
	Data    *Export    `json:"data,omitempty"`
}

// HandleGDPR runs the requested action on the subscriber matching the
// email. A missing record is ErrNotFound, never a silent success.
func (s *Service) HandleGDPR(ctx context.Context, req GDPRRequest) (*GDPRResult, error) {
	switch req.Action {
	case GDPRExport:
		exp, err := s.Export(ctx, req.Email)
		if err != nil {
			return nil, err
		}
		return &GDPRResult{Action: req.Action, Message: "Données exportées", Data: exp}, nil
	case GDPRDelete:
		if err := s.Erase(ctx, req.Email); err != nil {
			return nil, err
		}
		return &GDPRResult{Action: req.Action, Message: "Données supprimées"}, nil
	case GDPRAnonymize:
		if _, err := s.Anonymize(ctx, req.Email); err != nil {
			return nil, err
		}
		return &GDPRResult{Action: req.Action, Message: "Données anonymisées"}, nil
	}
	return nil, domain.NewValidationError("action", "must be one of: export delete anonymize")
}

// Export returns the subscriber's personal data.
func (s *Service) Export(ctx context.Context, email string) (*Export, error) {
	sub, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	logger.Info("gdpr export", "subscriber_id", sub.ID)
	return &Export{
		ID:             sub.ID,
		Email:          sub.Email,
		FirstName:      sub.FirstName,
		LastName:       sub.LastName,
		IsActive:       sub.IsActive,
		IsVerified:     sub.IsVerified,
		Preferences:    sub.Preferences,
		SubscribedAt:   sub.SubscribedAt,
		VerifiedAt:     sub.VerifiedAt,
		UnsubscribedAt: sub.UnsubscribedAt,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
		ExportedAt:     s.now(),
	}, nil
}

// Erase hard-deletes the subscriber, its preferences and its sent
// records, then recounts the totals of every campaign it had received.
func (s *Service) Erase(ctx context.Context, email string) error {
	sub, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	var campaigns []string
	if s.attribution != nil {
		campaigns, err = s.attribution.CampaignIDsForSubscriber(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("gdpr delete: %w", err)
		}
	}
	if err := s.repo.Delete(ctx, sub.ID); err != nil {
		return fmt.Errorf("gdpr delete: %w", err)
	}
	for _, id := range campaigns {
		if err := s.attribution.RefreshCounters(ctx, id); err != nil {
			logger.Warn("counter refresh failed", "campaign_id", id, "error", err)
		}
	}
	logger.Info("gdpr delete", "subscriber_id", sub.ID, "campaigns", len(campaigns))
	return nil
}

// Anonymize replaces the email with a placeholder and clears names and
// tokens. The row and its sent records stay so campaign counts hold.
func (s *Service) Anonymize(ctx context.Context, email string) (*domain.Subscriber, error) {
	sub, err := s.lookup(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sub.Email = AnonymizedEmail()
	sub.FirstName = ""
	sub.LastName = ""
	sub.VerificationToken = nil
	sub.UnsubscribeToken = nil
	sub.IsActive = false
	if sub.UnsubscribedAt == nil {
		sub.UnsubscribedAt = &now
	}
	sub.UpdatedAt = now
	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("gdpr anonymize: %w", err)
	}
	logger.Info("gdpr anonymize", "subscriber_id", sub.ID)
	return sub, nil
}

// AnonymizedEmail returns a unique, undeliverable placeholder address.
func AnonymizedEmail() string {
	return "anonymized-" + uuid.NewString() + "@anonymized.invalid"
}

func (s *Service) lookup(ctx context.Context, email string) (*domain.Subscriber, error) {
	email, err := checkEmail(email)
	if err != nil {
		return nil, err
	}
	return s.repo.GetByEmail(ctx, email)
}
