package domain

import (
	"strings"
	"time"
)

// Frequency is how often a subscriber wants to hear from the association.
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly || f == FrequencyMonthly
}

// Preferences are the content categories a subscriber opted into.
type Preferences struct {
	Events    bool      `json:"events" db:"events"`
	Places    bool      `json:"places" db:"places"`
	Offers    bool      `json:"offers" db:"offers"`
	News      bool      `json:"news" db:"news"`
	Frequency Frequency `json:"frequency" db:"frequency"`
}

// DefaultPreferences is applied when a subscription carries none.
func DefaultPreferences() Preferences {
	return Preferences{Events: true, Places: true, Offers: true, News: true, Frequency: FrequencyWeekly}
}

// Matches reports whether a subscriber with these preferences belongs to
// the audience. An empty audience matches everyone.
func (p Preferences) Matches(a Audience) bool {
	if !a.Any() {
		return true
	}
	return (a.Events && p.Events) || (a.Places && p.Places) ||
		(a.Offers && p.Offers) || (a.News && p.News)
}

// Subscriber is an opted-in newsletter recipient.
type Subscriber struct {
	ID                string      `json:"id" db:"id"`
	Email             string      `json:"email" db:"email"`
	FirstName         string      `json:"firstName,omitempty" db:"first_name"`
	LastName          string      `json:"lastName,omitempty" db:"last_name"`
	VerificationToken *string     `json:"-" db:"verification_token"`
	UnsubscribeToken  *string     `json:"-" db:"unsubscribe_token"`
	IsActive          bool        `json:"isActive" db:"is_active"`
	IsVerified        bool        `json:"isVerified" db:"is_verified"`
	Preferences       Preferences `json:"preferences"`

	SubscribedAt   time.Time  `json:"subscribedAt" db:"subscribed_at"`
	VerifiedAt     *time.Time `json:"verifiedAt,omitempty" db:"verified_at"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

// Receivable reports whether the subscriber may be sent a campaign.
func (s *Subscriber) Receivable() bool {
	return s.IsActive && s.IsVerified
}

// NormalizeEmail trims and lowercases an address so uniqueness is
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
