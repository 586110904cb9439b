package subscriber

import (
	"fmt"

	"github.com/abc-bedarieux/newsletter/internal/domain"
)

// Sentinel errors for the subscriber service layer.
var (
	ErrNotFound          = fmt.Errorf("subscriber %w", domain.ErrNotFound)
	ErrDuplicateEmail    = fmt.Errorf("email already registered: %w", domain.ErrConflict)
	ErrAlreadySubscribed = fmt.Errorf("email is already subscribed: %w", domain.ErrInvalid)
	ErrInvalidToken      = fmt.Errorf("unknown or already used token: %w", domain.ErrNotFound)
)
