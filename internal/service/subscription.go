package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

const (
	DefaultTrialDays     = 7
	DefaultLookupTimeout = 15 * time.Second
	PaymentProvider      = "mercadopago"
)

// Payment acknowledgement statuses beyond the ledger outcomes.
const (
	AckIgnored   = "ignored"
	AckDuplicate = "duplicate"
)

var (
	ErrInvalidTransition = errors.New("invalid subscription transition")
	ErrUnknownStatus     = errors.New("unknown remote subscription status")
)

var allowedTransitions = map[models.SubscriptionStatus][]models.SubscriptionStatus{
	models.SubscriptionNone: {
		models.SubscriptionTrialPending, models.SubscriptionActive,
		models.SubscriptionPaused, models.SubscriptionCancelled,
	},
	models.SubscriptionTrialPending: {
		models.SubscriptionTrialActive, models.SubscriptionActive, models.SubscriptionPaused,
		models.SubscriptionExpired, models.SubscriptionCancelled,
	},
	models.SubscriptionTrialActive: {
		models.SubscriptionActive, models.SubscriptionPaused,
		models.SubscriptionExpired, models.SubscriptionCancelled,
	},
	models.SubscriptionActive: {
		models.SubscriptionPaused, models.SubscriptionExpired, models.SubscriptionCancelled,
	},
	models.SubscriptionPaused: {
		models.SubscriptionActive, models.SubscriptionExpired, models.SubscriptionCancelled,
	},
	models.SubscriptionExpired:   {models.SubscriptionActive, models.SubscriptionCancelled},
	models.SubscriptionCancelled: {models.SubscriptionActive},
}

// remoteStatuses maps processor statuses to local ones. "canceled" is the processor's
// spelling; "cancelled" is accepted as well.
var remoteStatuses = map[string]models.SubscriptionStatus{
	"pending":    models.SubscriptionTrialPending,
	"authorized": models.SubscriptionActive,
	"paused":     models.SubscriptionPaused,
	"cancelled":  models.SubscriptionCancelled,
	"canceled":   models.SubscriptionCancelled,
	"expired":    models.SubscriptionExpired,
}

var handledEventTypes = map[string]bool{
	types.PaymentEventPreapproval:       true,
	types.PaymentEventAuthorizedPayment: true,
}

// CanTransition reports whether from -> to is allowed. Staying in the same status is
// always allowed and is a no-op.
func CanTransition(from, to models.SubscriptionStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MapRemoteStatus translates a processor status into a local one.
func MapRemoteStatus(status string) (models.SubscriptionStatus, bool) {
	s, ok := remoteStatuses[strings.ToLower(strings.TrimSpace(status))]
	return s, ok
}

// applyTransition moves user to status and applies the side effects of entering it.
// It returns false without touching the user when the status is unchanged.
func applyTransition(user *models.User, to models.SubscriptionStatus, now time.Time, trialPeriod time.Duration) (bool, error) {
	from := user.SubscriptionStatus
	if from == to {
		return false, nil
	}
	if !CanTransition(from, to) {
		return false, fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}

	now = now.UTC()
	switch to {
	case models.SubscriptionTrialPending, models.SubscriptionTrialActive:
		end := now.Add(trialPeriod)
		user.TrialStartAt, user.TrialEndAt = &now, &end
	case models.SubscriptionActive:
		user.Active = true
		user.CancellationReason = ""
	case models.SubscriptionCancelled:
		user.Active = false
	}
	user.SubscriptionStatus = to
	user.SubscriptionUpdatedAt = &now
	return true, user.CheckInvariants()
}

// SubscriptionService reconciles local subscription state with the payment processor.
type SubscriptionService struct {
	db            *gorm.DB
	lookup        SubscriptionLookup
	now           Clock
	trialPeriod   time.Duration
	lookupTimeout time.Duration
	logger        *zap.Logger
}

var _ ISubscriptionService = (*SubscriptionService)(nil)

// NewSubscriptionService creates a SubscriptionService. lookup may be nil when payments
// are not configured; payment events then fail with a retryable error.
func NewSubscriptionService(db *gorm.DB, lookup SubscriptionLookup, trialPeriod time.Duration, logger *zap.Logger) *SubscriptionService {
	if trialPeriod <= 0 {
		trialPeriod = DefaultTrialDays * 24 * time.Hour
	}
	return &SubscriptionService{
		db:            db,
		lookup:        lookup,
		now:           time.Now,
		trialPeriod:   trialPeriod,
		lookupTimeout: DefaultLookupTimeout,
		logger:        logger.Named("subscription"),
	}
}

// WithClock replaces the time source.
func (s *SubscriptionService) WithClock(now Clock) *SubscriptionService {
	s.now = now
	return s
}

// TrialPeriod returns the configured trial length.
func (s *SubscriptionService) TrialPeriod() time.Duration {
	return s.trialPeriod
}

// HandlePaymentEvent re-fetches the subscription behind ev and applies the resulting
// status to the owning user. Re-delivered events and unchanged statuses are no-ops.
func (s *SubscriptionService) HandlePaymentEvent(ctx context.Context, ev types.PaymentEvent) (*types.PaymentAck, error) {
	ack := &types.PaymentAck{EventID: ev.EventID}
	log := s.logger.With(zap.String("event_id", ev.EventID), zap.String("event_type", ev.Type), zap.String("reference", ev.Reference))

	if !handledEventTypes[ev.Type] {
		log.Info("ignoring unhandled payment event type")
		ack.Status = AckIgnored
		return ack, nil
	}

	seen, err := s.eventSeen(s.db.WithContext(ctx), ev.EventID)
	if err != nil {
		return nil, storeError("check payment event", err)
	}
	if seen {
		log.Info("duplicate payment event")
		ack.Status = AckDuplicate
		return ack, nil
	}

	if s.lookup == nil {
		return nil, apperrors.Subscription("payment processor not configured", nil)
	}
	lookupCtx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	remote, err := s.lookup.LookupSubscription(lookupCtx, ev.Type, ev.Reference)
	cancel()
	if err != nil {
		log.Warn("subscription lookup failed", zap.Error(err))
		return nil, apperrors.Subscription("failed to fetch subscription", err).WithDetail("reference", ev.Reference)
	}

	record := models.WebhookEvent{
		Provider:       PaymentProvider,
		EventID:        ev.EventID,
		EventType:      ev.Type,
		Action:         ev.Action,
		Reference:      ev.Reference,
		ResolvedStatus: strings.ToLower(remote.Status),
	}

	target, known := MapRemoteStatus(remote.Status)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if seen, err := s.eventSeen(tx, ev.EventID); err != nil {
			return err
		} else if seen {
			ack.Status = AckDuplicate
			return nil
		}

		user, err := s.findSubscriber(tx, remote)
		if err != nil {
			return err
		}
		switch {
		case !known:
			log.Warn("unknown remote subscription status", zap.String("status", remote.Status))
			record.Outcome = models.EventOutcomeUnmatched
		case user == nil:
			log.Warn("no user for subscription", zap.String("external_reference", remote.ExternalReference))
			record.Outcome = models.EventOutcomeUnmatched
		default:
			record.UserID = &user.ID
			var locked *models.User
			record.Outcome, locked, err = s.reconcile(tx, user.ID, remote, target)
			if err != nil {
				return err
			}
			ack.NewStatus = string(locked.SubscriptionStatus)
		}

		record.ProcessedAt = s.now().UTC()
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		ack.Status = record.Outcome
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			log.Info("payment event processed concurrently")
			return &types.PaymentAck{Status: AckDuplicate, EventID: ev.EventID}, nil
		}
		return nil, storeError("apply payment event", err)
	}

	log.Info("payment event processed",
		zap.String("outcome", ack.Status),
		zap.String("remote_status", remote.Status),
		zap.String("subscription_status", ack.NewStatus),
	)
	return ack, nil
}

// reconcile applies target to the locked user row and returns the outcome with that row.
func (s *SubscriptionService) reconcile(tx *gorm.DB, userID uuid.UUID, remote types.RemoteSubscription, target models.SubscriptionStatus) (string, *models.User, error) {
	user, err := lockUser(tx, userID)
	if err != nil {
		return "", nil, err
	}

	dirty := false
	if remote.ID != "" && (user.ExternalSubscriptionRef == nil || *user.ExternalSubscriptionRef != remote.ID) {
		ref := remote.ID
		user.ExternalSubscriptionRef = &ref
		dirty = true
	}

	outcome := models.EventOutcomeUnchanged
	changed, err := applyTransition(user, target, s.now(), s.trialPeriod)
	switch {
	case errors.Is(err, ErrInvalidTransition):
		s.logger.Warn("rejected subscription transition",
			zap.String("user_id", user.ID.String()),
			zap.String("from", string(user.SubscriptionStatus)),
			zap.String("to", string(target)),
		)
		outcome = models.EventOutcomeRejected
	case err != nil:
		return "", nil, err
	case changed:
		if target == models.SubscriptionCancelled && remote.Reason != "" {
			user.CancellationReason = remote.Reason
		}
		outcome = models.EventOutcomeApplied
		dirty = true
	}

	if dirty {
		if err := tx.Save(user).Error; err != nil {
			return "", nil, err
		}
	}
	return outcome, user, nil
}

// findSubscriber matches the remote subscription to a user by the stored processor
// reference, then by the external reference set at checkout (the chat subscriber ID).
func (s *SubscriptionService) findSubscriber(tx *gorm.DB, remote types.RemoteSubscription) (*models.User, error) {
	var user models.User
	if remote.ID != "" {
		err := tx.Where("external_subscription_ref = ?", remote.ID).First(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if remote.ExternalReference == "" {
		return nil, nil
	}
	err := tx.Where("external_id = ?", remote.ExternalReference).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *SubscriptionService) eventSeen(db *gorm.DB, eventID string) (bool, error) {
	var count int64
	err := db.Model(&models.WebhookEvent{}).
		Where("provider = ? AND event_id = ?", PaymentProvider, eventID).
		Count(&count).Error
	return count > 0, err
}

// ActivateTrial starts the trial clock of a trial_pending user. The trial window is
// restarted from now. It returns the current user and whether the trial was started.
func (s *SubscriptionService) ActivateTrial(ctx context.Context, userID uuid.UUID) (*models.User, bool, error) {
	var (
		user      *models.User
		activated bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = lockUser(tx, userID)
		if err != nil {
			return err
		}
		if user.SubscriptionStatus != models.SubscriptionTrialPending {
			return nil
		}
		if activated, err = applyTransition(user, models.SubscriptionTrialActive, s.now(), s.trialPeriod); err != nil {
			return err
		}
		return tx.Save(user).Error
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, false, err
		}
		return nil, false, storeError("activate trial", err)
	}
	if activated {
		s.logger.Info("trial activated", zap.String("user_id", userID.String()), zap.Timep("trial_end_at", user.TrialEndAt))
	}
	return user, activated, nil
}

// RefreshAccess expires an active trial whose window has ended. Other users are
// returned unchanged.
func (s *SubscriptionService) RefreshAccess(ctx context.Context, user *models.User) (*models.User, error) {
	if !s.trialEnded(user) {
		return user, nil
	}
	var refreshed *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		refreshed, err = s.expireLocked(tx, user.ID)
		return err
	})
	if err != nil {
		return nil, storeError("expire trial", err)
	}
	return refreshed, nil
}

// ExpireTrials moves every trial_active user whose window has ended to expired and
// returns how many were expired.
func (s *SubscriptionService) ExpireTrials(ctx context.Context) (int, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("subscription_status = ? AND trial_end_at <= ?", models.SubscriptionTrialActive, s.now().UTC()).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, storeError("list ended trials", err)
	}

	expired := 0
	for _, id := range ids {
		var user *models.User
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			user, err = s.expireLocked(tx, id)
			return err
		})
		if err != nil {
			return expired, storeError("expire trial", err)
		}
		if user.SubscriptionStatus == models.SubscriptionExpired {
			expired++
		}
	}
	s.logger.Info("trial sweep finished", zap.Int("candidates", len(ids)), zap.Int("expired", expired))
	return expired, nil
}

func (s *SubscriptionService) expireLocked(tx *gorm.DB, id uuid.UUID) (*models.User, error) {
	user, err := lockUser(tx, id)
	if err != nil {
		return nil, err
	}
	if !s.trialEnded(user) {
		return user, nil
	}
	if _, err := applyTransition(user, models.SubscriptionExpired, s.now(), s.trialPeriod); err != nil {
		return nil, err
	}
	if err := tx.Save(user).Error; err != nil {
		return nil, err
	}
	s.logger.Info("trial expired", zap.String("user_id", id.String()))
	return user, nil
}

func (s *SubscriptionService) trialEnded(user *models.User) bool {
	return user.SubscriptionStatus == models.SubscriptionTrialActive &&
		user.TrialEndAt != nil && !s.now().Before(*user.TrialEndAt)
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
