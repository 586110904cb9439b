package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferencesMatches(t *testing.T) {
	tests := []struct {
		name     string
		prefs    Preferences
		audience Audience
		want     bool
	}{
		{"empty audience matches everyone", Preferences{}, Audience{}, true},
		{"shared flag", Preferences{Events: true}, Audience{Events: true, News: true}, true},
		{"no shared flag", Preferences{Places: true, Offers: true}, Audience{Events: true}, false},
		{"defaults match any audience", DefaultPreferences(), Audience{News: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.prefs.Matches(tt.audience))
		})
	}
}

func TestCampaignStateGuards(t *testing.T) {
	tests := []struct {
		status   CampaignStatus
		editable bool
	}{
		{CampaignDraft, true},
		{CampaignScheduled, true},
		{CampaignSending, false},
		{CampaignStatusSent, false},
		{CampaignArchived, false},
	}
	for _, tt := range tests {
		c := &Campaign{Status: tt.status}
		assert.Equal(t, tt.editable, c.IsEditable(), string(tt.status))
		assert.Equal(t, tt.editable, c.CanSend(), string(tt.status))
		assert.True(t, tt.status.Valid())
	}
	assert.False(t, CampaignStatus("paused").Valid())
}

func TestSubscriberReceivable(t *testing.T) {
	s := &Subscriber{IsActive: true}
	assert.False(t, s.Receivable())
	s.IsVerified = true
	assert.True(t, s.Receivable())
	s.IsActive = false
	assert.False(t, s.Receivable())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "marie@example.fr", NormalizeEmail("  Marie@Example.FR "))
}

func TestSentDelivered(t *testing.T) {
	for _, st := range []SentStatus{SentDelivered, SentOpened, SentClicked} {
		assert.True(t, (&CampaignSent{Status: st}).Delivered(), st)
	}
	for _, st := range []SentStatus{SentPending, SentFailed} {
		assert.False(t, (&CampaignSent{Status: st}).Delivered(), st)
	}
}

func TestValidationError(t *testing.T) {
	var v *ValidationError
	assert.NoError(t, v.OrNil())

	v = NewValidationError("title", "required").Add("subject", "required")
	err := v.OrNil()
	assert.EqualError(t, err, "validation failed: subject, title")

	var target *ValidationError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "required", target.Fields["subject"])

	assert.NoError(t, (&ValidationError{}).OrNil())
}

func TestFrequencyValid(t *testing.T) {
	assert.True(t, FrequencyDaily.Valid())
	assert.False(t, Frequency("HOURLY").Valid())
}
