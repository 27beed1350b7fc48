package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/nutrilog/backend/internal/apperrors"
	"github.com/pageza/nutrilog/backend/internal/models"
	"github.com/pageza/nutrilog/backend/internal/service"
	"github.com/pageza/nutrilog/backend/internal/types"
)

// AdminHandler serves the read-only stats API.
type AdminHandler struct {
	auth   service.IAuthService
	users  service.IUserService
	stats  service.IDailyStatsService
	logger *zap.Logger
}

func NewAdminHandler(auth service.IAuthService, users service.IUserService, stats service.IDailyStatsService, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{auth: auth, users: users, stats: stats, logger: logger.Named("admin")}
}

// RegisterRoutes mounts the token route behind public and the stats routes behind
// protected.
func (h *AdminHandler) RegisterRoutes(router *gin.RouterGroup, public, protected []gin.HandlerFunc) {
	token := make([]gin.HandlerFunc, 0, len(public)+1)
	router.POST("/admin/token", append(append(token, public...), h.Token)...)

	users := router.Group("/users", protected...)
	{
		users.GET("/:external_id/daily", h.Daily)
		users.GET("/:external_id/history", h.History)
	}
}

func (h *AdminHandler) Token(c *gin.Context) {
	var req types.AdminTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, apperrors.Validation("username and password are required", "username", "password"))
		return
	}

	token, err := h.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, service.ErrAdminDisabled):
		abortWithStatus(c, http.StatusServiceUnavailable, err)
		return
	case errors.Is(err, service.ErrInvalidCredentials):
		h.logger.Warn("admin login failed", zap.String("username", req.Username), zap.String("client_ip", c.ClientIP()))
		abortWithStatus(c, http.StatusUnauthorized, err)
		return
	case err != nil:
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

// Daily returns one day's summary. A day without meals is reported with zero totals.
func (h *AdminHandler) Daily(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	date := c.Query("date")
	if date == "" {
		date = h.stats.Today(user)
	} else if _, err := time.Parse(models.DateLayout, date); err != nil {
		abortWithError(c, apperrors.Validation("date must be YYYY-MM-DD", "date"))
		return
	}

	stats, err := h.stats.Get(c.Request.Context(), user.ID, date)
	if errors.Is(err, service.ErrStatsNotFound) {
		goal := user.CalorieGoal()
		stats = &models.DailyStats{UserID: user.ID, Date: date, CalorieGoal: goal, CalorieDelta: -float64(goal)}
	} else if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, service.Summary(user, stats))
}

// History returns the stored days ending today, newest first.
func (h *AdminHandler) History(c *gin.Context) {
	user, ok := h.user(c)
	if !ok {
		return
	}

	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			abortWithError(c, apperrors.Validation(fmt.Sprintf("days must be between 1 and %d", service.MaxHistoryDays), "days"))
			return
		}
		days = n
	}

	rows, err := h.stats.History(c.Request.Context(), user, days)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := types.HistoryResponse{ExternalID: user.ExternalID, Days: make([]types.DailySummary, 0, len(rows))}
	for i := range rows {
		resp.Days = append(resp.Days, service.Summary(user, &rows[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) user(c *gin.Context) (*models.User, bool) {
	user, err := h.users.GetByExternalID(c.Request.Context(), c.Param("external_id"))
	if errors.Is(err, service.ErrUserNotFound) {
		abortWithStatus(c, http.StatusNotFound, err)
		return nil, false
	}
	if err != nil {
		abortWithError(c, err)
		return nil, false
	}
	return user, true
}
