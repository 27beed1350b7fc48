package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/cache"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/metrics"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
	"github.com/pageza/nutrilog/backend/internal/testhelpers"
	"github.com/pageza/nutrilog/backend/internal/types"
)

const testPaymentLink = "https://pay.example/checkout"

type dispatcherFixture struct {
	db         *gorm.DB
	dispatcher *Dispatcher
	counters   *metrics.Counters
	lookup     *testhelpers.MockSubscriptionLookup
}

func newDispatcherFixture(t *testing.T, analyzer Analyzer) *dispatcherFixture {
	t.Helper()
	db := testhelpers.SetupSQLite(t)
	logger := zap.NewNop()
	messages := i18n.MustNewManager("en")
	if analyzer == nil {
		analyzer = analysis.NewPipeline(analysis.Config{Cache: cache.NewMemory(time.Hour, 100)}, logger)
	}
	stats := newStatsService(db)
	lookup := new(testhelpers.MockSubscriptionLookup)
	counters := metrics.NewCounters()

	d := NewDispatcher(DispatcherDeps{
		Users:         NewUserService(db, logger).WithClock(fixedClock),
		Quiz:          newQuizService(db),
		Analyzer:      analyzer,
		FoodLog:       NewFoodLogService(db, stats, logger).WithClock(fixedClock),
		Stats:         stats,
		Subscriptions: newSubscriptionService(db, lookup),
		Messages:      messages,
		Recorder:      counters,
	}, DispatcherConfig{PaymentLink: testPaymentLink}, logger)
	return &dispatcherFixture{db: db, dispatcher: d, counters: counters, lookup: lookup}
}

func (f *dispatcherFixture) chat(t *testing.T, subscriber, text string) *types.ChatResponse {
	t.Helper()
	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: subscriber},
		FirstName:    "Ana",
		Language:     "en",
		Text:         text,
	})
	require.NoError(t, err)
	return resp
}

func completedUser(t *testing.T, db *gorm.DB, externalID string, status models.SubscriptionStatus) *models.User {
	t.Helper()
	user := createUser(t, db, externalID)
	require.NoError(t, user.ApplyProfile(nutrition.Profile{
		Gender: nutrition.GenderFemale, Age: 30, WeightKg: 65, HeightCm: 168,
		ActivityLevel: nutrition.ActivityLightlyActive, Goal: nutrition.GoalMaintainWeight,
	}))
	user.QuizCompleted = true
	user.QuizStep = len(QuizSteps)
	user.SubscriptionStatus = status
	if status == models.SubscriptionTrialPending || status == models.SubscriptionTrialActive {
		start, end := fixedNow, fixedNow.Add(7*24*time.Hour)
		user.TrialStartAt, user.TrialEndAt = &start, &end
	}
	require.NoError(t, db.Save(user).Error)
	return user
}

func TestHandleChatNewUserStartsQuiz(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	resp := f.chat(t, "sub-1", "hello")
	texts := resp.Texts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Hi Ana!")
	assert.Equal(t, "What is your biological sex? (male / female)", texts[1])
	assert.Equal(t, types.ChatResponseVersion, resp.Version)

	var user models.User
	require.NoError(t, f.db.First(&user, "external_id = ?", "sub-1").Error)
	assert.Equal(t, 0, user.QuizStep)
	assert.NotNil(t, user.LastSeenAt)
}

func TestHandleChatQuizThenSoupEndToEnd(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	f.chat(t, "sub-1", "hi")
	for _, answer := range []string{"male", "30", "80", "180", "moderately active", "lose weight"} {
		f.chat(t, "sub-1", answer)
	}
	done := f.chat(t, "sub-1", "yes")
	assert.Contains(t, done.Texts()[0], "daily goal is 2350 kcal")

	resp := f.chat(t, "sub-1", "Soup")
	texts := resp.Texts()
	require.Len(t, texts, 5)
	assert.Contains(t, texts[0], "Calories: 200 kcal")
	assert.Equal(t, "Food score: 3/5", texts[1])
	assert.Contains(t, texts[2], "rough estimate")
	assert.Equal(t, "Today: 200 of 2350 kcal (2150 kcal left).", texts[3])
	assert.Equal(t, "Your free trial has started and runs until 2024-03-17.", texts[4])

	var user models.User
	require.NoError(t, f.db.First(&user, "external_id = ?", "sub-1").Error)
	assert.Equal(t, models.SubscriptionTrialActive, user.SubscriptionStatus)

	today := f.chat(t, "sub-1", "today")
	assert.Contains(t, today.Texts()[0], "2024-03-10: 200 kcal in 1 meal(s).")

	snap := f.counters.Snapshot()
	assert.EqualValues(t, 10, snap.Received)
	assert.EqualValues(t, 10, snap.Succeeded)
}

func TestHandleChatValidationError(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{Text: "soup", ImageURL: "ftp://x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, []string{"image_url", "subscriber_id"}, apperrors.Fields(err))
	assert.Equal(t, []string{"Sorry, I couldn't understand that message."}, resp.Texts())

	snap := f.counters.Snapshot()
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, RouteInvalid, snap.Routes[0].Route)
	assert.EqualValues(t, 1, snap.Failed)
}

func TestRejectChatRecordsInvalidDispatch(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	resp, err := f.dispatcher.RejectChat(context.Background(), errors.New("unexpected EOF"))
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, []string{"Sorry, I couldn't understand that message."}, resp.Texts())

	snap := f.counters.Snapshot()
	assert.EqualValues(t, 1, snap.Received)
	assert.EqualValues(t, 1, snap.Failed)
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, RouteInvalid, snap.Routes[0].Route)
}

func TestHandleChatGatedUser(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	completedUser(t, f.db, "sub-1", models.SubscriptionExpired)

	resp := f.chat(t, "sub-1", "pizza")
	assert.Equal(t, []string{"Your access is not active. Subscribe to keep logging meals: " + testPaymentLink}, resp.Texts())

	var count int64
	require.NoError(t, f.db.Model(&models.FoodLogEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHandleChatSubscriberWithoutQuizGetsAnalysis(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	user := createUser(t, f.db, "sub-1")
	require.NoError(t, f.db.Model(user).Update("subscription_status", models.SubscriptionActive).Error)

	resp := f.chat(t, "sub-1", "Soup")
	texts := resp.Texts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "Calories: 200 kcal")
	for _, text := range texts {
		assert.NotContains(t, text, "biological sex")
	}

	reloaded := reloadUser(t, f.db, user)
	assert.Equal(t, models.QuizNotStarted, reloaded.QuizStep)
	var count int64
	require.NoError(t, f.db.Model(&models.FoodLogEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	snap := f.counters.Snapshot()
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, RouteAnalysis, snap.Routes[0].Route)
}

func TestHandleChatNewUserMediaStartsQuiz(t *testing.T) {
	f := newDispatcherFixture(t, nil)

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-2"},
		Language:     "en",
		ImageURL:     "https://cdn.example.com/plate.jpg",
	})
	require.NoError(t, err)
	texts := resp.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "What is your biological sex? (male / female)", texts[1])

	snap := f.counters.Snapshot()
	require.Len(t, snap.Routes, 1)
	assert.Equal(t, RouteQuizStart, snap.Routes[0].Route)
}

func TestHandleChatExpiresEndedTrialBeforeRouting(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	user := completedUser(t, f.db, "sub-1", models.SubscriptionTrialActive)
	require.NoError(t, f.db.Model(user).Updates(map[string]interface{}{
		"trial_start_at": fixedNow.Add(-8 * 24 * time.Hour),
		"trial_end_at":   fixedNow.Add(-time.Hour),
	}).Error)

	resp := f.chat(t, "sub-1", "pizza")
	assert.Contains(t, resp.Texts()[0], testPaymentLink)
	assert.Equal(t, models.SubscriptionExpired, reloadUser(t, f.db, user).SubscriptionStatus)
}

func TestHandleChatCommands(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	user := completedUser(t, f.db, "sub-1", models.SubscriptionActive)

	help := f.chat(t, "sub-1", "HELP")
	assert.Contains(t, help.Texts()[0], "Commands:")

	today := f.chat(t, "sub-1", "/today")
	assert.Equal(t, []string{"Nothing logged today yet."}, today.Texts())

	reset := f.chat(t, "sub-1", "quiz-reset")
	assert.Equal(t, "Your quiz answers were cleared. Let's start again.", reset.Texts()[0])
	stored := reloadUser(t, f.db, user)
	assert.False(t, stored.QuizCompleted)
	assert.Equal(t, 0, stored.QuizStep)

	// mid-quiz text goes to the quiz, not the analyzer
	next := f.chat(t, "sub-1", "female")
	assert.Equal(t, "How old are you?", next.Texts()[0])
}

func TestHandleChatMediaDuringQuizRepromptsQuestion(t *testing.T) {
	analyzer := new(testhelpers.MockAnalyzer)
	f := newDispatcherFixture(t, analyzer)
	f.chat(t, "sub-1", "hi")

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-1"},
		ImageURL:     "https://cdn.example/meal.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"What is your biological sex? (male / female)"}, resp.Texts())
	analyzer.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything)
}

func TestHandleChatFileErrorIsRecovered(t *testing.T) {
	analyzer := new(testhelpers.MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.MatchedBy(func(in analysis.Input) bool {
		return in.Method == nutrition.MethodImage && in.SourceURL == "https://cdn.example/big.jpg"
	})).Return(nil, apperrors.File("file too large", nil))
	f := newDispatcherFixture(t, analyzer)
	completedUser(t, f.db, "sub-1", models.SubscriptionActive)

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-1"},
		ImageURL:     "https://cdn.example/big.jpg",
	})
	require.NoError(t, err)
	require.Len(t, resp.Texts(), 1)
	assert.Contains(t, resp.Texts()[0], "under 10 MB")
	assert.EqualValues(t, 1, f.counters.Snapshot().Failed)
}

func TestHandleChatStoreErrorIsRetryable(t *testing.T) {
	analyzer := new(testhelpers.MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Return(nil, apperrors.Store("cache unavailable", nil))
	f := newDispatcherFixture(t, analyzer)
	completedUser(t, f.db, "sub-1", models.SubscriptionActive)

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-1"},
		Text:         "rice",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, []string{"Sorry, something went wrong on our side. Please try again in a moment."}, resp.Texts())
}

func TestHandleChatRecoversPanic(t *testing.T) {
	analyzer := new(testhelpers.MockAnalyzer)
	analyzer.On("Analyze", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		panic("boom")
	})
	f := newDispatcherFixture(t, analyzer)
	completedUser(t, f.db, "sub-1", models.SubscriptionActive)

	resp, err := f.dispatcher.HandleChat(context.Background(), types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-1"},
		Text:         "rice",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Sorry, something went wrong on our side. Please try again in a moment."}, resp.Texts())

	snap := f.counters.Snapshot()
	assert.EqualValues(t, 1, snap.Failed)
}

func TestHandleChatDuplicateMessage(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	completedUser(t, f.db, "sub-1", models.SubscriptionActive)
	req := types.ChatWebhookRequest{
		SubscriberID: types.FlexibleID{Value: "sub-1"},
		Text:         "apple",
		MessageID:    types.FlexibleID{Value: "m-1"},
	}

	_, err := f.dispatcher.HandleChat(context.Background(), req)
	require.NoError(t, err)
	retry, err := f.dispatcher.HandleChat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "I already logged this message.", retry.Texts()[0])

	var count int64
	require.NoError(t, f.db.Model(&models.FoodLogEntry{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestHandlePayment(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	user := completedUser(t, f.db, "sub-1", models.SubscriptionTrialActive)
	f.lookup.On("LookupSubscription", mock.Anything, types.PaymentEventPreapproval, "pre-1").
		Return(types.RemoteSubscription{ID: "pre-1", Status: "authorized", ExternalReference: "sub-1"}, nil)

	req := types.PaymentWebhookRequest{ID: types.FlexibleID{Value: "123"}, Type: types.PaymentEventPreapproval}
	req.Data.ID = types.FlexibleID{Value: "pre-1"}

	ack, err := f.dispatcher.HandlePayment(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.EventOutcomeApplied, ack.Status)
	assert.Equal(t, models.SubscriptionActive, reloadUser(t, f.db, user).SubscriptionStatus)

	_, err = f.dispatcher.HandlePayment(context.Background(), types.PaymentWebhookRequest{Type: "payment"})
	require.Error(t, err)
	assert.Equal(t, []string{"data.id", "id"}, apperrors.Fields(err))

	snap := f.counters.Snapshot()
	assert.EqualValues(t, 2, snap.Received)
	assert.EqualValues(t, 1, snap.Failed)
}
