package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/models"
)

// Identity is what an inbound chat event tells us about its sender.
type Identity struct {
	ExternalID string
	FirstName  string
	Language   string
	Timezone   string
}

// PurgeReport counts the rows removed by Purge.
type PurgeReport struct {
	FoodLogs      int64 `json:"food_logs"`
	DailyStats    int64 `json:"daily_stats"`
	WebhookEvents int64 `json:"webhook_events"`
}

// UserService resolves chat subscribers to users.
type UserService struct {
	db     *gorm.DB
	now    Clock
	logger *zap.Logger
}

var _ IUserService = (*UserService)(nil)

func NewUserService(db *gorm.DB, logger *zap.Logger) *UserService {
	return &UserService{db: db, now: time.Now, logger: logger.Named("users")}
}

// WithClock replaces the time source.
func (s *UserService) WithClock(now Clock) *UserService {
	s.now = now
	return s
}

// ResolveOrCreate loads the user for id.ExternalID, creating it on first contact, and
// records the contact time. Changed names, languages and valid timezones are stored.
func (s *UserService) ResolveOrCreate(ctx context.Context, id Identity) (*models.User, bool, error) {
	now := s.now().UTC()
	db := s.db.WithContext(ctx)

	user, err := s.find(db, id.ExternalID)
	if err != nil {
		return nil, false, storeError("load user", err)
	}
	if user == nil {
		user = models.NewUser(id.ExternalID)
		user.FirstName = id.FirstName
		user.Language = strings.ToLower(id.Language)
		user.Timezone = validTimezone(id.Timezone)
		user.LastSeenAt = &now
		if err := db.Create(user).Error; err != nil {
			if !isUniqueViolation(err) {
				return nil, false, storeError("create user", err)
			}
			// created by a concurrent delivery
			if user, err = s.find(db, id.ExternalID); err != nil {
				return nil, false, storeError("load user", err)
			}
			if user == nil {
				return nil, false, ErrUserNotFound
			}
		} else {
			s.logger.Info("user created", zap.String("user_id", user.ID.String()), zap.String("external_id", id.ExternalID))
			return user, true, nil
		}
	}

	updates := map[string]interface{}{"last_seen_at": now}
	user.LastSeenAt = &now
	if id.FirstName != "" && id.FirstName != user.FirstName {
		updates["first_name"] = id.FirstName
		user.FirstName = id.FirstName
	}
	if lang := strings.ToLower(id.Language); lang != "" && lang != user.Language {
		updates["language"] = lang
		user.Language = lang
	}
	if tz := validTimezone(id.Timezone); tz != "" && tz != user.Timezone {
		updates["timezone"] = tz
		user.Timezone = tz
	}
	if err := db.Model(user).Updates(updates).Error; err != nil {
		return nil, false, storeError("update user", err)
	}
	return user, false, nil
}

// GetByExternalID returns the user or ErrUserNotFound.
func (s *UserService) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.find(s.db.WithContext(ctx), externalID)
	if err != nil {
		return nil, storeError("load user", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Purge deletes the user and everything it owns in one transaction.
func (s *UserService) Purge(ctx context.Context, externalID string) (*PurgeReport, error) {
	report := &PurgeReport{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.find(tx, externalID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}

		res := tx.Where("user_id = ?", user.ID).Delete(&models.DailyStats{})
		if res.Error != nil {
			return res.Error
		}
		report.DailyStats = res.RowsAffected

		if res = tx.Where("user_id = ?", user.ID).Delete(&models.FoodLogEntry{}); res.Error != nil {
			return res.Error
		}
		report.FoodLogs = res.RowsAffected

		if res = tx.Where("user_id = ?", user.ID).Delete(&models.WebhookEvent{}); res.Error != nil {
			return res.Error
		}
		report.WebhookEvents = res.RowsAffected

		return tx.Delete(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, storeError("purge user", err)
	}
	s.logger.Info("user purged",
		zap.String("external_id", externalID),
		zap.Int64("food_logs", report.FoodLogs),
		zap.Int64("daily_stats", report.DailyStats),
	)
	return report, nil
}

func (s *UserService) find(db *gorm.DB, externalID string) (*models.User, error) {
	var user models.User
	err := db.Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func validTimezone(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if _, err := time.LoadLocation(name); err != nil {
		return ""
	}
	return name
}
