package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/database"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/metrics"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
	"github.com/pageza/nutrilog/backend/internal/service"
	"github.com/pageza/nutrilog/backend/internal/testhelpers"
	"github.com/pageza/nutrilog/backend/internal/types"
)

type stack struct {
	db         *gorm.DB
	dispatcher *service.Dispatcher
	users      *service.UserService
	stats      *service.DailyStatsService
	foodLog    *service.FoodLogService
	lookup     *testhelpers.MockSubscriptionLookup
	counters   *metrics.Counters
}

// newStack wires the real services against PostgreSQL, including the SQL migrations.
func newStack(t *testing.T) *stack {
	t.Helper()
	db := testhelpers.SetupTestDatabase(t)
	logger := zap.NewNop()
	require.NoError(t, database.RunMigrations(db, logger))

	messages := i18n.MustNewManager("en")
	stats := service.NewDailyStatsService(db, "UTC", logger)
	foodLog := service.NewFoodLogService(db, stats, logger)
	users := service.NewUserService(db, logger)
	lookup := new(testhelpers.MockSubscriptionLookup)
	counters := metrics.NewCounters()
	trial := 7 * 24 * time.Hour

	d := service.NewDispatcher(service.DispatcherDeps{
		Users:         users,
		Quiz:          service.NewQuizService(db, messages, trial, logger),
		Analyzer:      analysis.NewPipeline(analysis.Config{Cache: cache.NewMemory(time.Hour, 100)}, logger),
		FoodLog:       foodLog,
		Stats:         stats,
		Subscriptions: service.NewSubscriptionService(db, lookup, trial, logger),
		Messages:      messages,
		Recorder:      counters,
	}, service.DispatcherConfig{PaymentLink: "https://pay.example/checkout"}, logger)

	return &stack{db: db, dispatcher: d, users: users, stats: stats, foodLog: foodLog, lookup: lookup, counters: counters}
}

func (s *stack) chat(t *testing.T, subscriber, text string) []string {
	t.Helper()
	resp, err := s.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: subscriber},
		FirstName:    "Ana",
		Language:     "en",
		Text:         text,
	})
	require.NoError(t, err)
	return resp.Texts()
}

func TestChatFlowOnPostgres(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.chat(t, "5511999990000", "hi")
	for _, answer := range []string{"male", "30", "80", "180", "moderately active", "lose weight"} {
		s.chat(t, "5511999990000", answer)
	}
	done := s.chat(t, "5511999990000", "yes")
	assert.Contains(t, done[0], "2350 kcal")

	s.chat(t, "5511999990000", "soup")
	s.chat(t, "5511999990000", "soup")

	user, err := s.users.GetByExternalID(ctx, "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionTrialActive, user.SubscriptionStatus)

	var logs int64
	require.NoError(t, s.db.Model(&models.FoodLogEntry{}).Where("user_id = ?", user.ID).Count(&logs).Error)
	assert.EqualValues(t, 2, logs)

	day, err := s.stats.Get(ctx, user.ID, s.stats.Today(user))
	require.NoError(t, err)
	assert.Equal(t, 2, day.MealCount)
	assert.InDelta(t, 400, day.TotalCalories, 0.01)

	// Recompute from the log must agree with the incremental totals.
	rebuilt, err := s.stats.Recompute(ctx, user.ID, s.stats.Today(user))
	require.NoError(t, err)
	assert.Equal(t, day.MealCount, rebuilt.MealCount)
	assert.InDelta(t, day.TotalCalories, rebuilt.TotalCalories, 0.01)

	snap := s.counters.Snapshot()
	assert.EqualValues(t, 10, snap.Succeeded)
}

func TestPaymentActivatesAndPurgeRemovesEverything(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.chat(t, "sub-9", "hi")
	s.lookup.On("LookupSubscription", mock.Anything, types.PaymentEventPreapproval, "pre-9").
		Return(types.RemoteSubscription{ID: "pre-9", Status: "authorized", ExternalReference: "sub-9"}, nil)

	req := types.PaymentWebhookRequest{ID: types.FlexibleID{Value: "evt-9"}, Type: types.PaymentEventPreapproval}
	req.Data.ID = types.FlexibleID{Value: "pre-9"}

	ack, err := s.dispatcher.HandlePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeApplied, ack.Status)

	again, err := s.dispatcher.HandlePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, service.AckDuplicate, again.Status)
	s.lookup.AssertNumberOfCalls(t, "LookupSubscription", 1)

	user, err := s.users.GetByExternalID(ctx, "sub-9")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, user.SubscriptionStatus)

	report, err := s.users.Purge(ctx, "sub-9")
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.WebhookEvents)

	_, err = s.users.GetByExternalID(ctx, "sub-9")
	assert.ErrorIs(t, err, service.ErrUserNotFound)
}

func TestScoreConstraintRejectsOutOfRangeRows(t *testing.T) {
	s := newStack(t)

	s.chat(t, "sub-3", "hi")
	user, err := s.users.GetByExternalID(context.Background(), "sub-3")
	require.NoError(t, err)

	bad := &models.FoodLogEntry{UserID: user.ID, FoodScore: 9, Method: "text", Source: "fallback"}
	assert.Error(t, s.db.Create(bad).Error)
}

func TestConcurrentMealsKeepDailyTotalsComplete(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.chat(t, "sub-7", "hi")
	user, err := s.users.GetByExternalID(ctx, "sub-7")
	require.NoError(t, err)

	const meals = 8
	var wg sync.WaitGroup
	errs := make(chan error, meals)
	for i := 0; i < meals; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.foodLog.Record(ctx, user, &analysis.Result{
				Record:     nutrition.Record{Calories: 100, Protein: 5, Carbs: 10, Fat: 3},
				Score:      3,
				Confidence: 0.3,
				Method:     nutrition.MethodText,
				Source:     analysis.SourceFallback,
			}, "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	day, err := s.stats.Get(ctx, user.ID, s.stats.Today(user))
	require.NoError(t, err)
	assert.Equal(t, meals, day.MealCount)
	assert.InDelta(t, 100*meals, day.TotalCalories, 0.01)
}
