package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/service"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// WebhookHandler receives the chat platform and payment processor callbacks.
type WebhookHandler struct {
	dispatcher service.IDispatcher
	logger     *zap.Logger
}

func NewWebhookHandler(dispatcher service.IDispatcher, logger *zap.Logger) *WebhookHandler {
	logger = logger.Named("webhooks")
	registerBindingValidators(logger)
	return &WebhookHandler{dispatcher: dispatcher, logger: logger}
}

var bindingOnce sync.Once

// registerBindingValidators gives gin's binding engine the rules the webhook payloads
// are tagged with.
func registerBindingValidators(logger *zap.Logger) {
	bindingOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			logger.Warn("gin binding engine is not go-playground/validator")
			return
		}
		if err := types.RegisterValidators(v); err != nil {
			logger.Error("register webhook validators", zap.Error(err))
		}
	})
}

// RegisterRoutes mounts the chat route behind chatGuard and the payment route open,
// since the processor cannot send custom headers.
func (h *WebhookHandler) RegisterRoutes(router *gin.RouterGroup, chatGuard gin.HandlerFunc) {
	router.POST("/chat", chatGuard, h.Chat)
	router.POST("/payments", h.Payment)
}

// Chat always answers with a reply envelope. Malformed payloads get 400, retryable
// failures 500 so the platform re-delivers; everything else is 200. Payloads that
// decode but fail their binding rules still go to the dispatcher, which reports the
// offending fields.
func (h *WebhookHandler) Chat(c *gin.Context) {
	var (
		req  types.ChatWebhookRequest
		resp *types.ChatResponse
		err  error
	)
	var verrs validator.ValidationErrors
	if bindErr := c.ShouldBindJSON(&req); bindErr != nil && !errors.As(bindErr, &verrs) {
		resp, err = h.dispatcher.RejectChat(c.Request.Context(), bindErr)
	} else {
		resp, err = h.dispatcher.HandleChat(c.Request.Context(), req)
	}

	status := http.StatusOK
	if err != nil {
		status = apperrors.HTTPStatus(err)
		_ = c.Error(err)
	}
	c.JSON(status, resp)
}

// Payment acknowledges processed, duplicate and ignored events with 200. Lookup
// failures answer 503 so the processor retries.
func (h *WebhookHandler) Payment(c *gin.Context) {
	var req types.PaymentWebhookRequest
	var verrs validator.ValidationErrors
	if err := c.ShouldBindJSON(&req); err != nil && !errors.As(err, &verrs) {
		h.logger.Info("undecodable payment webhook", zap.Error(err))
		abortWithError(c, apperrors.Validation("invalid JSON body"))
		return
	}

	ack, err := h.dispatcher.HandlePayment(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}
