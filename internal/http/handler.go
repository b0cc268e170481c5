package http

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"subcontracting-service/internal/config"
	"subcontracting-service/internal/http/middleware"
	"subcontracting-service/internal/model"
	"subcontracting-service/internal/repository"
	"subcontracting-service/internal/service"
)

type Handler struct {
	authService    *service.AuthService
	courseService  *service.CourseService
	claimService   *service.ClaimService
	paymentService *service.PaymentService
	driverService  *service.DriverService
	subcontracting config.SubcontractingConfig
	webhookToken   string
	log            zerolog.Logger
}

func NewHandler(
	authService *service.AuthService,
	courseService *service.CourseService,
	claimService *service.ClaimService,
	paymentService *service.PaymentService,
	driverService *service.DriverService,
	subcontracting config.SubcontractingConfig,
	webhookToken string,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		authService:    authService,
		courseService:  courseService,
		claimService:   claimService,
		paymentService: paymentService,
		driverService:  driverService,
		subcontracting: subcontracting,
		webhookToken:   webhookToken,
		log:            log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware, optionalAuth gin.HandlerFunc) {
	api := r.Group("/api")

	// Public: account creation, logins and the claim page itself. The claim
	// page resolves an optional principal so the holding driver sees their own
	// countdown.
	api.POST("/driver/register", h.registerDriver)
	api.POST("/driver/login", h.driverLogin)
	api.POST("/admin/login", h.adminLogin)
	api.GET("/subcontracting/claim/:token", optionalAuth, h.getClaimInfo)

	api.POST("/webhook/payment", h.paymentWebhook)

	driver := api.Group("/driver")
	driver.Use(authMiddleware)
	{
		driver.GET("/profile", h.getProfile)
		driver.PUT("/profile", h.updateProfile)
		driver.GET("/courses", h.listMyCourses)
		driver.GET("/courses/:id", h.getMyCourse)
		driver.POST("/courses/:id/cancel", h.cancelMyCourse)
	}

	claim := api.Group("/subcontracting")
	claim.Use(authMiddleware)
	{
		claim.POST("/claim/:token/reserve", h.reserveCourse)
		claim.POST("/claim/:token/release", h.releaseCourse)
		claim.POST("/claim/:token/pay", h.initiatePayment)
		claim.GET("/payment/status/:session_id", h.paymentStatus)
	}

	admin := api.Group("/admin/subcontracting")
	admin.Use(authMiddleware)
	{
		admin.POST("/courses", h.createCourse)
		admin.GET("/courses", h.listCourses)
		admin.GET("/courses/:id", h.getCourseDetails)
		admin.POST("/courses/:id/regenerate-token", h.regenerateToken)
		admin.POST("/courses/:id/reset-to-open", h.resetToOpen)
		admin.POST("/courses/:id/cancel", h.cancelCourse)
		admin.POST("/courses/:id/mark-done", h.markDone)
		admin.POST("/courses/:id/toggle-test", h.toggleTest)

		admin.GET("/drivers", h.listDrivers)
		admin.GET("/drivers/:id", h.getDriver)
		admin.POST("/drivers/:id/activate", h.activateDriver)
		admin.POST("/drivers/:id/deactivate", h.deactivateDriver)
		admin.DELETE("/drivers/:id", h.deleteDriver)

		admin.GET("/commissions", h.getCommissions)
		admin.GET("/settings", h.getSettings)
	}
}

// ---- auth ----

func (h *Handler) registerDriver(c *gin.Context) {
	var req service.RegisterDriverInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	driver, err := h.driverService.Register(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(gin.H{
		"driver":  driver,
		"message": "account created, awaiting activation",
	}))
}

func (h *Handler) driverLogin(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.authService.DriverLogin(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) adminLogin(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.authService.AdminLogin(c.Request.Context(), req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

// ---- claim workflow ----

func (h *Handler) getClaimInfo(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		c.JSON(http.StatusBadRequest, errorResponse("invalid claim token"))
		return
	}

	info, err := h.claimService.GetClaimInfo(c.Request.Context(), middleware.Principal(c), token)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(info))
}

func (h *Handler) reserveCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	result, err := h.claimService.Reserve(c.Request.Context(), principal, strings.TrimSpace(c.Param("token")))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) releaseCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	if err := h.claimService.Release(c.Request.Context(), principal, strings.TrimSpace(c.Param("token"))); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"message": "reservation released"}))
}

func (h *Handler) initiatePayment(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	result, err := h.paymentService.Initiate(c.Request.Context(), principal, strings.TrimSpace(c.Param("token")))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) paymentStatus(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	result, err := h.paymentService.Status(c.Request.Context(), principal, strings.TrimSpace(c.Param("session_id")))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) paymentWebhook(c *gin.Context) {
	if h.webhookToken == "" ||
		subtle.ConstantTimeCompare([]byte(c.GetHeader("X-Webhook-Token")), []byte(h.webhookToken)) != 1 {
		c.JSON(http.StatusUnauthorized, errorResponse("invalid webhook token"))
		return
	}

	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		PaymentID string `json:"payment_id"`
		Status    string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	switch req.Status {
	case "", "paid":
		// Settlement, handled below.
	case "failed", "expired":
		if err := h.paymentService.Fail(c.Request.Context(), req.SessionID); err != nil {
			if errors.Is(err, service.ErrAlreadyProcessed) {
				c.JSON(http.StatusOK, successResponse(gin.H{"message": "already processed"}))
				return
			}
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, successResponse(gin.H{"message": "payment failed recorded"}))
		return
	default:
		// Intermediate provider states carry no transition; acknowledge them.
		c.JSON(http.StatusOK, successResponse(gin.H{"message": "ignored"}))
		return
	}

	result, err := h.paymentService.Confirm(c.Request.Context(), req.SessionID, req.PaymentID)
	if err != nil {
		// The provider retries on non-2xx. Replays and lost-course settlements
		// are final outcomes, acknowledge them.
		if errors.Is(err, service.ErrAlreadyProcessed) {
			c.JSON(http.StatusOK, successResponse(gin.H{"message": "already processed"}))
			return
		}
		if errors.Is(err, service.ErrExpired) {
			c.JSON(http.StatusOK, successResponse(gin.H{"message": "payment recorded, refund needed"}))
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

// ---- driver ----

func (h *Handler) getProfile(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	driver, err := h.driverService.Profile(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(driver))
}

func (h *Handler) updateProfile(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req service.UpdateProfileInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	driver, err := h.driverService.UpdateProfile(c.Request.Context(), principal, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(driver))
}

func (h *Handler) listMyCourses(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	courses, err := h.driverService.MyCourses(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(courses))
}

func (h *Handler) getMyCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	course, err := h.driverService.MyCourse(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(course))
}

func (h *Handler) cancelMyCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	outcome, err := h.driverService.CancelAssigned(c.Request.Context(), principal, id, model.CancelActorDriver, req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(outcome))
}

// ---- admin: courses ----

func (h *Handler) createCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var req service.CreateCourseInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.courseService.Create(c.Request.Context(), principal, req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(result))
}

func (h *Handler) listCourses(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	var filter repository.CourseListFilter
	if raw := c.Query("status"); raw != "" {
		status := model.CourseStatus(strings.ToUpper(strings.TrimSpace(raw)))
		filter.Status = &status
	}
	if raw := c.Query("driver_id"); raw != "" {
		if id, err := uuid.Parse(strings.TrimSpace(raw)); err == nil {
			filter.AssignedDriverID = &id
		}
	}
	if raw := c.Query("is_test"); raw != "" {
		isTest := raw == "true" || raw == "1"
		filter.IsTest = &isTest
	}

	courses, err := h.courseService.List(c.Request.Context(), principal, filter)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(courses))
}

func (h *Handler) getCourseDetails(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	details, err := h.courseService.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(details))
}

func (h *Handler) regenerateToken(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	result, err := h.courseService.RegenerateToken(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(result))
}

func (h *Handler) resetToOpen(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	course, err := h.courseService.ResetToOpen(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(course))
}

func (h *Handler) cancelCourse(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	var req struct {
		Actor  string `json:"actor"`
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	outcome, err := h.courseService.Cancel(c.Request.Context(), principal, id, model.CancelActor(req.Actor), req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(outcome))
}

func (h *Handler) markDone(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	course, err := h.courseService.MarkDone(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(course))
}

func (h *Handler) toggleTest(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid course id"))
		return
	}

	course, err := h.courseService.ToggleTest(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(course))
}

// ---- admin: drivers ----

func (h *Handler) listDrivers(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	drivers, err := h.driverService.List(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(drivers))
}

func (h *Handler) getDriver(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid driver id"))
		return
	}

	driver, err := h.driverService.Get(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(driver))
}

func (h *Handler) activateDriver(c *gin.Context) {
	h.setDriverActive(c, true)
}

func (h *Handler) deactivateDriver(c *gin.Context) {
	h.setDriverActive(c, false)
}

func (h *Handler) setDriverActive(c *gin.Context, active bool) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid driver id"))
		return
	}

	if active {
		err = h.driverService.Activate(c.Request.Context(), principal, id)
	} else {
		err = h.driverService.Deactivate(c.Request.Context(), principal, id)
	}
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"is_active": active}))
}

func (h *Handler) deleteDriver(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid driver id"))
		return
	}

	if err := h.driverService.Delete(c.Request.Context(), principal, id); err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{"message": "driver deleted"}))
}

// ---- admin: reporting ----

func (h *Handler) getCommissions(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}

	summary, err := h.courseService.Commissions(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(summary))
}

func (h *Handler) getSettings(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("missing principal"))
		return
	}
	if !principal.IsAdmin() {
		c.JSON(http.StatusForbidden, errorResponse(service.ErrPermissionDenied.Error()))
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"commission_rate":            h.subcontracting.CommissionRate,
		"reservation_window_seconds": int(h.subcontracting.ReservationWindow.Seconds()),
		"claim_token_ttl_seconds":    int(h.subcontracting.ClaimTokenTTL.Seconds()),
		"late_threshold_seconds":     int(h.subcontracting.LateThreshold.Seconds()),
		"auto_deactivate_limit":      model.AutoDeactivateLimit,
		"claim_base_url":             h.subcontracting.ClaimBaseURL,
	}))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrDriverInactive):
		c.JSON(http.StatusForbidden, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrAlreadyReserved):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotOpen):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrAlreadyProcessed):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrExpired):
		c.JSON(http.StatusGone, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
