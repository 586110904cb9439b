package sending

import (
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

var (
	ErrAlreadySending = fmt.Errorf("campaign is already sending or sent: %w", domain.ErrConflict)
	ErrNotSendable    = fmt.Errorf("campaign cannot be sent from its current status: %w", domain.ErrConflict)
	ErrNotSent        = fmt.Errorf("campaign has not been sent yet: %w", domain.ErrConflict)
	ErrNotReceivable  = fmt.Errorf("subscriber is inactive or unverified: %w", domain.ErrConflict)
)
