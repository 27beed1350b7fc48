package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrStatsNotFound = errors.New("daily stats not found")
)

// Clock returns the current time.
type Clock func() time.Time

// Analyzer turns meal input into a scored nutrient record.
type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*analysis.Result, error)
}

var _ Analyzer = (*analysis.Pipeline)(nil)

// SubscriptionLookup fetches the authoritative subscription behind a payment event.
type SubscriptionLookup interface {
	LookupSubscription(ctx context.Context, eventType, reference string) (types.RemoteSubscription, error)
}

func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Store("failed to "+op, err)
}

// lockUser loads the user row with SELECT ... FOR UPDATE. SQLite ignores the locking
// clause and serialises writers instead.
func lockUser(tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
