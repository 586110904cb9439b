package subscriber

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/pkg/logger"
)

// Service implements the subscriber lifecycle.
type Service struct {
	repo        Repository
	verifier    VerificationSender
	attribution CampaignAttribution
	now         func() time.Time
	newToken    func() string
}

// Option configures optional collaborators.
type Option func(*Service)

// WithVerifier sets the double opt-in mail sender. Without one,
// subscriptions are stored but no email goes out.
func WithVerifier(v VerificationSender) Option {
	return func(s *Service) { s.verifier = v }
}

// WithCampaignAttribution lets Unsubscribe credit the campaign the link
// came from.
func WithCampaignAttribution(a CampaignAttribution) Option {
	return func(s *Service) { s.attribution = a }
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, newToken: uuid.NewString}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubscribeInput is the public subscription form.
type SubscribeInput struct {
	Email       string              `json:"email" validate:"required,email,max=254"`
	FirstName   string              `json:"firstName" validate:"max=100"`
	LastName    string              `json:"lastName" validate:"max=100"`
	Preferences *domain.Preferences `json:"preferences"`
}

// SubscribeResult reports what Subscribe did.
type SubscribeResult struct {
	Subscriber            *domain.Subscriber `json:"subscriber"`
	Reactivated           bool               `json:"reactivated"`
	VerificationEmailSent bool               `json:"verificationEmailSent"`
}

// Subscribe creates a subscriber, or reactivates the existing row of a
// previously unsubscribed email with fresh tokens. An active subscriber
// yields ErrAlreadySubscribed along with the stored record.
func (s *Service) Subscribe(ctx context.Context, in SubscribeInput) (*SubscribeResult, error) {
	email, err := checkEmail(in.Email)
	if err != nil {
		return nil, err
	}
	prefs, err := resolvePreferences(in.Preferences)
	if err != nil {
		return nil, err
	}
	now := s.now()

	existing, err := s.repo.GetByEmail(ctx, email)
	switch {
	case err == nil && existing.IsActive:
		return &SubscribeResult{Subscriber: existing}, ErrAlreadySubscribed
	case err == nil:
		s.issueTokens(existing)
		existing.IsActive = true
		existing.IsVerified = false
		existing.VerifiedAt = nil
		existing.UnsubscribedAt = nil
		existing.SubscribedAt = now
		existing.UpdatedAt = now
		if in.FirstName != "" {
			existing.FirstName = strings.TrimSpace(in.FirstName)
		}
		if in.LastName != "" {
			existing.LastName = strings.TrimSpace(in.LastName)
		}
		if in.Preferences != nil {
			existing.Preferences = prefs
		}
		if err := s.repo.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("reactivate subscriber: %w", err)
		}
		logger.Info("subscriber reactivated", "subscriber_id", existing.ID, "email", email)
		return &SubscribeResult{
			Subscriber:            existing,
			Reactivated:           true,
			VerificationEmailSent: s.sendVerification(ctx, existing),
		}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	sub := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
		Preferences:  prefs,
		SubscribedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.issueTokens(sub)
	if err := s.repo.Create(ctx, sub); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			// Lost a race with a concurrent subscribe of the same address.
			return nil, ErrAlreadySubscribed
		}
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	logger.Info("subscriber created", "subscriber_id", sub.ID, "email", email)
	return &SubscribeResult{
		Subscriber:            sub,
		VerificationEmailSent: s.sendVerification(ctx, sub),
	}, nil
}

// Status is the public view of a subscription.
type Status struct {
	Email        string             `json:"email"`
	IsSubscribed bool               `json:"isSubscribed"`
	IsVerified   bool               `json:"isVerified"`
	Preferences  domain.Preferences `json:"preferences"`
	SubscribedAt time.Time          `json:"subscribedAt"`
}

// Status looks a subscription up by email.
func (s *Service) Status(ctx context.Context, email string) (*Status, error) {
	email, err := checkEmail(email)
	if err != nil {
		return nil, err
	}
	sub, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return &Status{
		Email:        sub.Email,
		IsSubscribed: sub.IsActive,
		IsVerified:   sub.IsVerified,
		Preferences:  sub.Preferences,
		SubscribedAt: sub.SubscribedAt,
	}, nil
}

// Verify consumes a verification token.
func (s *Service) Verify(ctx context.Context, token string) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.NewValidationError("token", "is required")
	}
	sub, err := s.repo.ConsumeVerificationToken(ctx, token, s.now())
	if err != nil {
		return nil, err
	}
	logger.Info("subscriber verified", "subscriber_id", sub.ID)
	return sub, nil
}

// Unsubscribe deactivates the owner of token. The row is kept so a later
// subscribe reactivates it. Unsubscribing twice is a no-op. When campaignID
// is set, the unsubscribe is credited to that campaign.
func (s *Service) Unsubscribe(ctx context.Context, token, campaignID string) (*domain.Subscriber, error) {
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sub.IsActive {
		return sub, nil
	}
	now := s.now()
	sub.IsActive = false
	sub.UnsubscribedAt = &now
	sub.UpdatedAt = now
	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}
	logger.Info("subscriber unsubscribed", "subscriber_id", sub.ID, "campaign_id", campaignID)

	if campaignID != "" && s.attribution != nil {
		s.attribute(ctx, campaignID, sub.ID, now)
	}
	return sub, nil
}

func (s *Service) attribute(ctx context.Context, campaignID, subscriberID string, at time.Time) {
	changed, err := s.attribution.MarkUnsubscribed(ctx, campaignID, subscriberID, at)
	if err != nil {
		logger.Warn("unsubscribe attribution failed", "campaign_id", campaignID, "subscriber_id", subscriberID, "error", err)
		return
	}
	if !changed {
		return
	}
	if err := s.attribution.RefreshCounters(ctx, campaignID); err != nil {
		logger.Warn("counter refresh failed", "campaign_id", campaignID, "error", err)
	}
}

// UpdatePreferences replaces the preferences of the owner of token.
func (s *Service) UpdatePreferences(ctx context.Context, token string, p domain.Preferences) (*domain.Subscriber, error) {
	prefs, err := resolvePreferences(&p)
	if err != nil {
		return nil, err
	}
	sub, err := s.byToken(ctx, token)
	if err != nil {
		return nil, err
	}
	sub.Preferences = prefs
	sub.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, sub); err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	return sub, nil
}

// CreateInput is the admin form. Verified subscribers skip the opt-in
// email; the admin vouches for consent.
type CreateInput struct {
	Email       string              `json:"email" validate:"required,email,max=254"`
	FirstName   string              `json:"firstName" validate:"max=100"`
	LastName    string              `json:"lastName" validate:"max=100"`
	Preferences *domain.Preferences `json:"preferences"`
	Verified    bool                `json:"verified"`
}

// Create adds a subscriber from the admin dashboard. Unlike Subscribe, an
// existing email is a conflict whatever its state.
func (s *Service) Create(ctx context.Context, in CreateInput) (*SubscribeResult, error) {
	email, err := checkEmail(in.Email)
	if err != nil {
		return nil, err
	}
	prefs, err := resolvePreferences(in.Preferences)
	if err != nil {
		return nil, err
	}
	now := s.now()
	sub := &domain.Subscriber{
		ID:           uuid.NewString(),
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		IsActive:     true,
		Preferences:  prefs,
		SubscribedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.issueTokens(sub)
	if in.Verified {
		sub.IsVerified = true
		sub.VerifiedAt = &now
		sub.VerificationToken = nil
	}
	if err := s.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	res := &SubscribeResult{Subscriber: sub}
	if !in.Verified {
		res.VerificationEmailSent = s.sendVerification(ctx, sub)
	}
	return res, nil
}

// List returns subscribers for the admin dashboard.
func (s *Service) List(ctx context.Context, f ListFilter) ([]domain.Subscriber, int, error) {
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.repo.List(ctx, f)
}

// ByUnsubscribeToken looks up the owner of an unsubscribe token without
// changing anything.
func (s *Service) ByUnsubscribeToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	return s.byToken(ctx, token)
}

func (s *Service) byToken(ctx context.Context, token string) (*domain.Subscriber, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.NewValidationError("token", "is required")
	}
	sub, err := s.repo.GetByUnsubscribeToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return sub, err
}

func (s *Service) issueTokens(sub *domain.Subscriber) {
	v, u := s.newToken(), s.newToken()
	sub.VerificationToken = &v
	sub.UnsubscribeToken = &u
}

// sendVerification reports whether the email went out. Failures are logged
// and never fail the subscription.
func (s *Service) sendVerification(ctx context.Context, sub *domain.Subscriber) bool {
	if s.verifier == nil {
		return false
	}
	if err := s.verifier.SendVerification(ctx, sub); err != nil {
		logger.Error("verification email failed", "subscriber_id", sub.ID, "email", sub.Email, "error", err)
		return false
	}
	return true
}

func checkEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", domain.NewValidationError("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", domain.NewValidationError("email", "must be a valid email address")
	}
	return email, nil
}

func resolvePreferences(p *domain.Preferences) (domain.Preferences, error) {
	if p == nil {
		return domain.DefaultPreferences(), nil
	}
	out := *p
	if out.Frequency == "" {
		out.Frequency = domain.FrequencyWeekly
	}
	out.Frequency = domain.Frequency(strings.ToUpper(string(out.Frequency)))
	if !out.Frequency.Valid() {
		return out, domain.NewValidationError("preferences.frequency", "must be one of: DAILY WEEKLY MONTHLY")
	}
	return out, nil
}
