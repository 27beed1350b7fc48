package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/nutrition"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// ErrQuizNotActive is returned by Answer for users who are not taking the quiz.
var ErrQuizNotActive = errors.New("quiz not in progress")

// QuizReply is the outcome of a quiz interaction.
type QuizReply struct {
	Messages  []types.ChatMessage
	Step      string
	Completed bool
	Targets   *nutrition.EnergyTargets
	// TrialStarted is set when completion moved the subscription to trial_pending.
	TrialStarted bool
}

func (r *QuizReply) add(text string, replies ...types.QuickReply) {
	if text == "" {
		return
	}
	r.Messages = append(r.Messages, types.ChatMessage{Type: "text", Text: text, QuickReplies: replies})
}

// QuizService runs the onboarding quiz. Every interaction reads, validates and writes
// the user's quiz state in one transaction holding the user row lock.
type QuizService struct {
	db          *gorm.DB
	messages    *i18n.Manager
	now         Clock
	trialPeriod time.Duration
	logger      *zap.Logger
}

var _ IQuizService = (*QuizService)(nil)

// NewQuizService creates a QuizService. trialPeriod is the trial window set on completion.
func NewQuizService(db *gorm.DB, messages *i18n.Manager, trialPeriod time.Duration, logger *zap.Logger) *QuizService {
	if trialPeriod <= 0 {
		trialPeriod = DefaultTrialDays * 24 * time.Hour
	}
	return &QuizService{
		db:          db,
		messages:    messages,
		now:         time.Now,
		trialPeriod: trialPeriod,
		logger:      logger.Named("quiz"),
	}
}

// WithClock replaces the time source.
func (s *QuizService) WithClock(now Clock) *QuizService {
	s.now = now
	return s
}

// Start puts the user on the first step with an empty answer map.
func (s *QuizService) Start(ctx context.Context, userID uuid.UUID) (*QuizReply, error) {
	return s.restart(ctx, userID, "")
}

// Reset is Start with a confirmation message. It works from any state, including
// after completion.
func (s *QuizService) Reset(ctx context.Context, userID uuid.UUID) (*QuizReply, error) {
	return s.restart(ctx, userID, "quiz.reset")
}

func (s *QuizService) restart(ctx context.Context, userID uuid.UUID, intro string) (*QuizReply, error) {
	reply := &QuizReply{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		resetQuiz(user)
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		if intro != "" {
			reply.add(s.messages.T(user.Language, intro))
		}
		s.prompt(reply, user, 0)
		return nil
	})
	if err != nil {
		return nil, s.wrap("restart quiz", err)
	}
	s.logger.Info("quiz restarted", zap.String("user_id", userID.String()))
	return reply, nil
}

func resetQuiz(user *models.User) {
	user.QuizStep = 0
	user.QuizAnswers = datatypes.JSONMap{}
	user.QuizCompleted = false
	user.QuizCompletedAt = nil
}

// Prompt re-sends the question for the user's current step.
func (s *QuizService) Prompt(ctx context.Context, userID uuid.UUID) (*QuizReply, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, storeError("load user", err)
	}
	reply := &QuizReply{}
	if !user.IsMidQuiz() {
		return nil, ErrQuizNotActive
	}
	if user.QuizStep >= len(QuizSteps) {
		reply.add(s.messages.T(user.Language, "quiz.malformed"))
		return reply, nil
	}
	s.prompt(reply, &user, user.QuizStep)
	return reply, nil
}

// Answer validates input against the user's current step. step, when set, is the step
// index the chat platform believes it is answering; a mismatch is treated as stale.
// Invalid answers leave the state untouched.
func (s *QuizService) Answer(ctx context.Context, userID uuid.UUID, input string, step *int) (*QuizReply, error) {
	reply := &QuizReply{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := lockUser(tx, userID)
		if err != nil {
			return err
		}
		if !user.IsMidQuiz() {
			return ErrQuizNotActive
		}

		idx := user.QuizStep
		if idx < 0 || idx >= len(QuizSteps) {
			s.logger.Warn("quiz step out of range", zap.String("user_id", userID.String()), zap.Int("step", idx))
			reply.add(s.messages.T(user.Language, "quiz.malformed"))
			return nil
		}
		name := QuizSteps[idx]
		reply.Step = name

		if step != nil && *step != idx {
			reply.add(s.messages.T(user.Language, "quiz.stale_answer"))
			s.prompt(reply, user, idx)
			return nil
		}

		value, ok := parseAnswer(name, input)
		if !ok {
			reply.add(s.invalidMessage(user.Language, name))
			s.prompt(reply, user, idx)
			return nil
		}

		if name == StepReview {
			if value == reviewRestart {
				resetQuiz(user)
				if err := tx.Save(user).Error; err != nil {
					return err
				}
				reply.add(s.messages.T(user.Language, "quiz.reset"))
				s.prompt(reply, user, 0)
				return nil
			}
			return s.complete(tx, user, reply)
		}

		answers := datatypes.JSONMap{}
		for k, v := range user.QuizAnswers {
			answers[k] = v
		}
		answers[name] = value
		user.QuizAnswers = answers
		user.QuizStep = idx + 1
		if err := tx.Save(user).Error; err != nil {
			return err
		}
		reply.Step = QuizSteps[user.QuizStep]
		s.prompt(reply, user, user.QuizStep)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuizNotActive) {
			return nil, err
		}
		return nil, s.wrap("answer quiz", err)
	}
	return reply, nil
}

func (s *QuizService) complete(tx *gorm.DB, user *models.User, reply *QuizReply) error {
	profile, ok := profileFromAnswers(user.QuizAnswers)
	if ok {
		if err := user.ApplyProfile(profile); err != nil {
			ok = false
		}
	}
	if !ok {
		s.logger.Warn("incomplete quiz answers at review", zap.String("user_id", user.ID.String()))
		reply.add(s.messages.T(user.Language, "quiz.malformed"))
		return nil
	}

	now := s.now().UTC()
	user.QuizCompleted = true
	user.QuizCompletedAt = &now
	user.QuizStep = len(QuizSteps)
	if user.SubscriptionStatus == models.SubscriptionNone {
		started, err := applyTransition(user, models.SubscriptionTrialPending, now, s.trialPeriod)
		if err != nil {
			return err
		}
		reply.TrialStarted = started
	}
	if err := tx.Save(user).Error; err != nil {
		return err
	}

	targets, _ := nutrition.Targets(profile)
	reply.Completed = true
	reply.Step = ""
	reply.Targets = &targets
	reply.add(s.messages.T(user.Language, "quiz.completed",
		"bmr", strconv.Itoa(int(targets.BMR+0.5)),
		"goal", targets.DailyCalorieGoal,
	))
	s.logger.Info("quiz completed",
		zap.String("user_id", user.ID.String()),
		zap.Float64("bmr", targets.BMR),
		zap.Int("daily_calorie_goal", targets.DailyCalorieGoal),
		zap.String("subscription_status", string(user.SubscriptionStatus)),
	)
	return nil
}

func (s *QuizService) invalidMessage(lang, step string) string {
	key := "quiz." + step + ".invalid"
	switch step {
	case StepAge:
		return s.messages.T(lang, key, "min", MinAge, "max", MaxAge)
	case StepWeight:
		return s.messages.T(lang, key, "min", formatNumber(MinWeightKg), "max", formatNumber(MaxWeightKg))
	case StepHeight:
		return s.messages.T(lang, key, "min", formatNumber(MinHeightCm), "max", formatNumber(MaxHeightCm))
	default:
		return s.messages.T(lang, key)
	}
}

// prompt appends the question for step idx with its quick replies.
func (s *QuizService) prompt(reply *QuizReply, user *models.User, idx int) {
	lang := user.Language
	name := QuizSteps[idx]
	key := "quiz." + name + ".prompt"
	var replies []types.QuickReply

	switch name {
	case StepGender:
		for _, g := range []nutrition.Gender{nutrition.GenderMale, nutrition.GenderFemale} {
			replies = append(replies, types.QuickReply{Caption: s.messages.T(lang, "option.gender."+string(g)), Payload: string(g)})
		}
	case StepActivityLevel:
		for _, level := range nutrition.ActivityLevels {
			replies = append(replies, types.QuickReply{Caption: s.messages.T(lang, "option.activity."+string(level)), Payload: string(level)})
		}
	case StepGoal:
		for _, goal := range nutrition.Goals {
			replies = append(replies, types.QuickReply{Caption: s.messages.T(lang, "option.goal."+string(goal)), Payload: string(goal)})
		}
	case StepReview:
		a := user.QuizAnswers
		weight, _ := answerFloat(a, StepWeight)
		height, _ := answerFloat(a, StepHeight)
		age, _ := answerFloat(a, StepAge)
		reply.add(s.messages.T(lang, key,
			"gender", s.messages.T(lang, "option.gender."+answerString(a, StepGender)),
			"age", int(age),
			"weight", formatNumber(weight),
			"height", formatNumber(height),
			"activity", s.messages.T(lang, "option.activity."+answerString(a, StepActivityLevel)),
			"goal", s.messages.T(lang, "option.goal."+answerString(a, StepGoal)),
		),
			types.QuickReply{Caption: s.messages.T(lang, "option.yes"), Payload: reviewConfirm},
			types.QuickReply{Caption: s.messages.T(lang, "option.restart"), Payload: reviewRestart},
		)
		return
	}
	reply.add(s.messages.T(lang, key), replies...)
}

func (s *QuizService) wrap(op string, err error) error {
	if errors.Is(err, ErrUserNotFound) {
		return err
	}
	return storeError(op, fmt.Errorf("quiz: %w", err))
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
