package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/analysis"
	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/i18n"
	"github.com/pageza/nutrilog/backend/internal/metrics"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// DefaultPaymentTimeout keeps payment webhook handling inside the processor's retry window.
const DefaultPaymentTimeout = 20 * time.Second

// Routes reported in dispatch records.
const (
	RouteInvalid      = "invalid"
	RouteHelp         = "help"
	RouteToday        = "today"
	RouteQuizStart    = "quiz_start"
	RouteQuizReset    = "quiz_reset"
	RouteQuiz         = "quiz"
	RouteAnalysis     = "analysis"
	RouteGated        = "gated"
	RouteUnsupported  = "unsupported"
	RouteSubscription = "subscription"
)

type command string

const (
	cmdNone      command = ""
	cmdHelp      command = "help"
	cmdReset     command = "reset"
	cmdQuizStart command = "quiz_start"
	cmdToday     command = "today"
)

var commands = map[string]command{
	"help":       cmdHelp,
	"ajuda":      cmdHelp,
	"reset":      cmdReset,
	"quiz_reset": cmdReset,
	"quiz-reset": cmdReset,
	"quiz_start": cmdQuizStart,
	"quiz-start": cmdQuizStart,
	"today":      cmdToday,
	"hoje":       cmdToday,
}

func parseCommand(text string) command {
	token := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(text)), "/")
	return commands[token]
}

// DispatcherConfig holds the user-facing settings of the dispatcher.
type DispatcherConfig struct {
	PaymentLink    string
	MaxUploadBytes int64
	PaymentTimeout time.Duration
}

// Dispatcher validates inbound webhook events and routes each to exactly one handler.
type Dispatcher struct {
	users         *UserService
	quiz          *QuizService
	analyzer      Analyzer
	foodLog       *FoodLogService
	stats         *DailyStatsService
	subscriptions *SubscriptionService
	messages      *i18n.Manager
	recorder      metrics.Recorder
	cfg           DispatcherConfig
	logger        *zap.Logger
}

var _ IDispatcher = (*Dispatcher)(nil)

// DispatcherDeps are the collaborators a Dispatcher routes to.
type DispatcherDeps struct {
	Users         *UserService
	Quiz          *QuizService
	Analyzer      Analyzer
	FoodLog       *FoodLogService
	Stats         *DailyStatsService
	Subscriptions *SubscriptionService
	Messages      *i18n.Manager
	Recorder      metrics.Recorder
}

func NewDispatcher(deps DispatcherDeps, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.PaymentTimeout <= 0 {
		cfg.PaymentTimeout = DefaultPaymentTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = analysis.DefaultMaxDownloadBytes
	}
	recorder := deps.Recorder
	if recorder == nil {
		recorder = metrics.Multi{}
	}
	return &Dispatcher{
		users:         deps.Users,
		quiz:          deps.Quiz,
		analyzer:      deps.Analyzer,
		foodLog:       deps.FoodLog,
		stats:         deps.Stats,
		subscriptions: deps.Subscriptions,
		messages:      deps.Messages,
		recorder:      recorder,
		cfg:           cfg,
		logger:        logger.Named("dispatcher"),
	}
}

// chatOutcome is the per-request state collected while handling a chat event.
type chatOutcome struct {
	route   string
	outcome string
	lang    string
	failed  error
}

// HandleChat answers one chat webhook. The response always carries at least one
// message. A non-nil error means the caller should answer with a failure status:
// validation errors for malformed payloads and retryable errors for store failures.
// Panics are converted into the localized system error message.
func (d *Dispatcher) HandleChat(ctx context.Context, req types.ChatWebhookRequest) (resp *types.ChatResponse, err error) {
	rec := metrics.DispatchRecord{Platform: metrics.PlatformChat, ReceivedAt: time.Now().UTC()}
	out := &chatOutcome{lang: req.Language}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling chat webhook",
				zap.Any("panic", r),
				zap.String("external_id", rec.ExternalID),
				zap.Stack("stack"),
			)
			resp = types.NewChatResponse(d.messages.T(out.lang, "error.system"))
			err = nil
			out.failed = apperrors.Internal("panic while handling chat webhook", fmt.Errorf("%v", r))
		}
		if resp == nil || len(resp.Content.Messages) == 0 {
			resp = types.NewChatResponse(d.messages.T(out.lang, "error.system"))
		}
		rec.Route = out.route
		rec.Outcome = out.outcome
		rec.Duration = time.Since(rec.ReceivedAt)
		if failure := firstError(err, out.failed); failure != nil {
			rec.ErrorKind = string(apperrors.KindOf(failure))
		} else {
			rec.Success = true
		}
		d.recorder.RecordDispatch(ctx, rec)
	}()

	event, err := req.Event()
	if err != nil {
		out.route = RouteInvalid
		d.logger.Info("rejected chat webhook", zap.String("error", apperrors.Describe(err)))
		return types.NewChatResponse(d.messages.T(out.lang, "error.validation")), err
	}
	rec.ExternalID = event.SubscriberID

	user, _, err := d.users.ResolveOrCreate(ctx, Identity{
		ExternalID: event.SubscriberID,
		FirstName:  event.FirstName,
		Language:   event.Language,
		Timezone:   event.Timezone,
	})
	if err != nil {
		return d.systemError(out, "resolve user", err)
	}
	out.lang = user.Language

	if user, err = d.subscriptions.RefreshAccess(ctx, user); err != nil {
		return d.systemError(out, "refresh access", err)
	}

	resp = types.NewChatResponse()
	if err := d.route(ctx, user, event, resp, out); err != nil {
		return d.systemError(out, "handle "+out.route, err)
	}
	return resp, nil
}

// RejectChat answers a chat webhook whose body could not be decoded. The reply is the
// usual envelope in the default language, and the rejection is recorded like any other
// invalid payload.
func (d *Dispatcher) RejectChat(ctx context.Context, cause error) (*types.ChatResponse, error) {
	received := time.Now().UTC()
	err := apperrors.Validation("invalid JSON body")
	d.logger.Info("undecodable chat webhook", zap.Error(cause))
	d.recorder.RecordDispatch(ctx, metrics.DispatchRecord{
		Platform:   metrics.PlatformChat,
		Route:      RouteInvalid,
		ErrorKind:  string(apperrors.KindOf(err)),
		ReceivedAt: received,
		Duration:   time.Since(received),
	})
	return types.NewChatResponse(d.messages.T(d.messages.DefaultLanguage(), "error.validation")), err
}

func (d *Dispatcher) route(ctx context.Context, user *models.User, event types.ChatEvent, resp *types.ChatResponse, out *chatOutcome) error {
	lang := user.Language

	if event.Kind == types.ChatEventText || event.Kind == types.ChatEventQuizAnswer {
		switch parseCommand(event.Text) {
		case cmdHelp:
			out.route = RouteHelp
			resp.AddText(d.messages.T(lang, "help"))
			return nil
		case cmdReset:
			out.route = RouteQuizReset
			reply, err := d.quiz.Reset(ctx, user.ID)
			appendQuiz(resp, reply)
			return err
		case cmdQuizStart:
			out.route = RouteQuizStart
			reply, err := d.quiz.Start(ctx, user.ID)
			appendQuiz(resp, reply)
			return err
		case cmdToday:
			out.route = RouteToday
			return d.today(ctx, user, resp)
		}
	}

	if user.IsMidQuiz() {
		return d.onboarding(ctx, user, event, resp, out)
	}

	switch event.Kind {
	case types.ChatEventText, types.ChatEventImage, types.ChatEventAudio:
		return d.analyze(ctx, user, event, resp, out)
	case types.ChatEventQuizAnswer:
		if !user.QuizCompleted {
			return d.onboarding(ctx, user, event, resp, out)
		}
		// a late quick-reply tap after completion
		out.route = RouteHelp
		resp.AddText(d.messages.T(lang, "quiz.stale_answer"))
		resp.AddText(d.messages.T(lang, "help"))
		return nil
	default:
		if !user.QuizCompleted {
			return d.onboarding(ctx, user, event, resp, out)
		}
		out.route = RouteUnsupported
		resp.AddText(d.messages.T(lang, "unsupported"))
		return nil
	}
}

// onboarding handles users who have not completed the quiz: users who never started get
// the welcome and the first question, users mid-quiz have text routed to the current step.
func (d *Dispatcher) onboarding(ctx context.Context, user *models.User, event types.ChatEvent, resp *types.ChatResponse, out *chatOutcome) error {
	if !user.IsMidQuiz() {
		out.route = RouteQuizStart
		resp.AddText(d.welcome(user))
		reply, err := d.quiz.Start(ctx, user.ID)
		appendQuiz(resp, reply)
		return err
	}

	out.route = RouteQuiz
	var (
		reply *QuizReply
		err   error
	)
	switch event.Kind {
	case types.ChatEventText, types.ChatEventQuizAnswer:
		reply, err = d.quiz.Answer(ctx, user.ID, event.Text, event.QuizStep)
	default:
		reply, err = d.quiz.Prompt(ctx, user.ID)
	}
	if err != nil {
		return err
	}
	if reply.Completed {
		out.outcome = "completed"
	}
	appendQuiz(resp, reply)
	return nil
}

func (d *Dispatcher) analyze(ctx context.Context, user *models.User, event types.ChatEvent, resp *types.ChatResponse, out *chatOutcome) error {
	lang := user.Language
	if !user.SubscriptionStatus.GrantsAccess() {
		if !user.QuizCompleted {
			// the quiz is the way into the free trial
			return d.onboarding(ctx, user, event, resp, out)
		}
		out.route = RouteGated
		out.outcome = string(user.SubscriptionStatus)
		resp.AddText(d.messages.T(lang, "subscription.required", "link", d.cfg.PaymentLink))
		return nil
	}

	out.route = RouteAnalysis
	result, err := d.analyzer.Analyze(ctx, analysis.Input{
		Method:    event.Method(),
		Text:      event.Text,
		SourceURL: event.MediaURL,
	})
	if err != nil {
		out.failed = err
		d.logger.Info("analysis failed",
			zap.String("user_id", user.ID.String()),
			zap.String("method", string(event.Method())),
			zap.String("error", apperrors.Describe(err)),
		)
		switch apperrors.KindOf(err) {
		case apperrors.KindFile:
			resp.AddText(d.messages.T(lang, "error.file", "max_mb", d.cfg.MaxUploadBytes>>20))
		case apperrors.KindValidation:
			resp.AddText(d.messages.T(lang, "error.validation"))
		default:
			if apperrors.IsRetryable(err) {
				return err
			}
			resp.AddText(d.messages.T(lang, "error.system"))
		}
		return nil
	}

	logged, err := d.foodLog.Record(ctx, user, result, event.MessageID)
	if err != nil {
		return err
	}
	if logged.Duplicate {
		out.outcome = "duplicate"
		resp.AddText(d.messages.T(lang, "analysis.duplicate"))
		resp.AddText(dailyProgress(d.messages, lang, logged.Stats))
		return nil
	}

	out.outcome = string(result.Source)
	for _, msg := range analysisMessages(d.messages, lang, result) {
		resp.AddText(msg)
	}
	resp.AddText(dailyProgress(d.messages, lang, logged.Stats))

	if user.SubscriptionStatus == models.SubscriptionTrialPending {
		updated, activated, err := d.subscriptions.ActivateTrial(ctx, user.ID)
		if err != nil {
			// the meal is already logged; the next analysis retries activation
			d.logger.Warn("failed to activate trial", zap.String("user_id", user.ID.String()), zap.Error(err))
			return nil
		}
		if activated {
			end := updated.TrialEndAt.In(updated.Location(d.stats.defaultTimezone)).Format(models.DateLayout)
			resp.AddText(d.messages.T(lang, "subscription.trial_started", "date", end))
		}
	}
	return nil
}

func (d *Dispatcher) today(ctx context.Context, user *models.User, resp *types.ChatResponse) error {
	stats, err := d.stats.Get(ctx, user.ID, d.stats.Today(user))
	if err != nil && !errors.Is(err, ErrStatsNotFound) {
		return err
	}
	resp.AddText(todaySummary(d.messages, user.Language, stats))
	return nil
}

// systemError answers with the localized system message. Retryable errors are returned
// so the platform re-delivers; anything else is logged and answered with 200.
func (d *Dispatcher) systemError(out *chatOutcome, op string, err error) (*types.ChatResponse, error) {
	out.failed = err
	resp := types.NewChatResponse(d.messages.T(out.lang, "error.system"))
	if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrQuizNotActive) {
		d.logger.Warn("chat webhook raced a concurrent change", zap.String("op", op), zap.Error(err))
		return resp, nil
	}
	d.logger.Error("chat webhook failed", zap.String("op", op), zap.String("error", apperrors.Describe(err)))
	if apperrors.IsRetryable(err) {
		return resp, err
	}
	return resp, nil
}

// HandlePayment reconciles one payment webhook within the processor's timeout window.
func (d *Dispatcher) HandlePayment(ctx context.Context, req types.PaymentWebhookRequest) (ack *types.PaymentAck, err error) {
	rec := metrics.DispatchRecord{Platform: metrics.PlatformPayment, Route: RouteSubscription, ReceivedAt: time.Now().UTC()}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.PaymentTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling payment webhook", zap.Any("panic", r), zap.Stack("stack"))
			ack, err = nil, apperrors.Internal("panic while handling payment webhook", fmt.Errorf("%v", r))
		}
		rec.Duration = time.Since(rec.ReceivedAt)
		if err != nil {
			rec.ErrorKind = string(apperrors.KindOf(err))
		} else {
			rec.Success = true
			rec.Outcome = ack.Status
		}
		d.recorder.RecordDispatch(ctx, rec)
	}()

	event, err := req.Event()
	if err != nil {
		rec.Route = RouteInvalid
		d.logger.Info("rejected payment webhook", zap.String("error", apperrors.Describe(err)))
		return nil, err
	}
	rec.ExternalID = event.Reference
	return d.subscriptions.HandlePaymentEvent(ctx, event)
}

func (d *Dispatcher) welcome(user *models.User) string {
	if user.FirstName == "" {
		return d.messages.T(user.Language, "welcome.anonymous")
	}
	return d.messages.T(user.Language, "welcome", "name", user.FirstName)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
