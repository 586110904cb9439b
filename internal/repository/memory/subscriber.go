package memory

import (
	"context"
	"time"

	"github.com/abc-bedarieux/newsletter/internal/domain"
	"github.com/abc-bedarieux/newsletter/internal/service/subscriber"
)

// SubscriberRepo implements subscriber.Repository and the orchestrator's
// recipient source.
type SubscriberRepo struct{ db *DB }

func (r *SubscriberRepo) find(match func(domain.Subscriber) bool) (*domain.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, s := range r.db.subscribers {
		if match(s) {
			cp := cloneSubscriber(s)
			return &cp, nil
		}
	}
	return nil, subscriber.ErrNotFound
}

func (r *SubscriberRepo) GetByID(_ context.Context, id string) (*domain.Subscriber, error) {
	return r.find(func(s domain.Subscriber) bool { return s.ID == id })
}

func (r *SubscriberRepo) GetByEmail(_ context.Context, email string) (*domain.Subscriber, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(s domain.Subscriber) bool { return domain.NormalizeEmail(s.Email) == email })
}

func (r *SubscriberRepo) GetByUnsubscribeToken(_ context.Context, token string) (*domain.Subscriber, error) {
	return r.find(func(s domain.Subscriber) bool {
		return s.UnsubscribeToken != nil && *s.UnsubscribeToken == token
	})
}

func (r *SubscriberRepo) ConsumeVerificationToken(_ context.Context, token string, at time.Time) (*domain.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, s := range r.db.subscribers {
		if s.VerificationToken == nil || *s.VerificationToken != token {
			continue
		}
		s.IsVerified = true
		s.VerifiedAt = &at
		s.VerificationToken = nil
		s.UpdatedAt = at
		r.db.subscribers[id] = s
		cp := cloneSubscriber(s)
		return &cp, nil
	}
	return nil, subscriber.ErrInvalidToken
}

func (r *SubscriberRepo) Create(_ context.Context, s *domain.Subscriber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email := domain.NormalizeEmail(s.Email)
	for _, existing := range r.db.subscribers {
		if domain.NormalizeEmail(existing.Email) == email {
			return subscriber.ErrDuplicateEmail
		}
	}
	cp := cloneSubscriber(*s)
	cp.Email = email
	r.db.subscribers[s.ID] = cp
	return nil
}

func (r *SubscriberRepo) Save(_ context.Context, s *domain.Subscriber) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.subscribers[s.ID]; !ok {
		return subscriber.ErrNotFound
	}
	email := domain.NormalizeEmail(s.Email)
	for id, existing := range r.db.subscribers {
		if id != s.ID && domain.NormalizeEmail(existing.Email) == email {
			return subscriber.ErrDuplicateEmail
		}
	}
	cp := cloneSubscriber(*s)
	cp.Email = email
	r.db.subscribers[s.ID] = cp
	return nil
}

func (r *SubscriberRepo) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, ok := r.db.subscribers[id]; !ok {
		return subscriber.ErrNotFound
	}
	delete(r.db.subscribers, id)
	for k := range r.db.sent {
		if k.subscriberID == id {
			delete(r.db.sent, k)
		}
	}
	return nil
}

func (r *SubscriberRepo) List(_ context.Context, f subscriber.ListFilter) ([]domain.Subscriber, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []domain.Subscriber
	for _, s := range r.db.subscribers {
		if f.Active != nil && s.IsActive != *f.Active {
			continue
		}
		if f.Verified != nil && s.IsVerified != *f.Verified {
			continue
		}
		if f.Search != "" && !contains(s.Email, f.Search) && !contains(s.FirstName, f.Search) && !contains(s.LastName, f.Search) {
			continue
		}
		out = append(out, cloneSubscriber(s))
	}
	byTime(out, func(s domain.Subscriber) time.Time { return s.SubscribedAt }, true)
	return page(out, f.Limit, f.Offset), len(out), nil
}

func (r *SubscriberRepo) ListReceivable(_ context.Context, a domain.Audience) ([]domain.Subscriber, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := []domain.Subscriber{}
	for _, s := range r.db.subscribers {
		if s.Receivable() && s.Preferences.Matches(a) {
			out = append(out, cloneSubscriber(s))
		}
	}
	byTime(out, func(s domain.Subscriber) time.Time { return s.SubscribedAt }, false)
	return out, nil
}
