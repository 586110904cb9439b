package campaign

import (
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound           = fmt.Errorf("campaign %w", domain.ErrNotFound)
	ErrAttachmentNotFound = fmt.Errorf("attachment %w", domain.ErrNotFound)
	ErrInvalidTransition  = fmt.Errorf("invalid status transition: %w", domain.ErrConflict)
	ErrImmutable          = fmt.Errorf("campaign content can no longer be changed: %w", domain.ErrConflict)
	ErrFeedUnavailable    = fmt.Errorf("feed could not be fetched: %w", domain.ErrInvalid)
)
