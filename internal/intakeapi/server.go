package intakeapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/MarkoPoloResearchLab/intake/internal/identity"
	"github.com/MarkoPoloResearchLab/intake/internal/telemetry"
	"github.com/MarkoPoloResearchLab/intake/pkg/intake"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const (
	editRejected = "rejected"
	keyAccount   = "account_type"
	keyLimit     = "transaction_limit"
)

// UserInfoFetcher exchanges an authorization code for a user-info document.
type UserInfoFetcher interface {
	FetchUserInfo(ctx context.Context, code string) (intake.RawProfile, error)
}

// Dependencies are the collaborators of the HTTP API. Identity, Metrics and
// Gatherer are optional.
type Dependencies struct {
	Service  *intake.Service
	Identity UserInfoFetcher
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server is the intake HTTP façade.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *zap.Logger
}

// NewServer validates cfg and wires the routes.
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("intake service is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	schemas, err := loadRequestSchemas()
	if err != nil {
		return nil, err
	}
	handler := &httpHandler{
		logger:   deps.Logger,
		service:  deps.Service,
		identity: deps.Identity,
		metrics:  deps.Metrics,
		schemas:  schemas,
		cfg:      cfg,
	}
	return &Server{
		cfg:    cfg,
		router: setupRouter(cfg, handler, sessionValidator, deps.Gatherer),
		logger: deps.Logger,
	}, nil
}

// Handler exposes the router.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Run serves until ctx is cancelled.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              server.cfg.ListenAddr,
		Handler:           server.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("intake api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, validator *sessionvalidator.Validator, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api")
	api.Use(validator.GinMiddleware(claimsContextKey))

	api.POST("/identity/callback", handler.handleCallback)
	api.PUT("/identity/profile", handler.handleProfile)
	api.GET("/application", handler.handleApplication)
	api.POST("/application/transaction-limit", handler.handleTransactionLimit)
	api.POST("/application/evaluate", handler.handleEvaluate)
	api.POST("/application/submit", handler.handleSubmit)

	return router
}

type httpHandler struct {
	logger   *zap.Logger
	service  *intake.Service
	identity UserInfoFetcher
	metrics  *telemetry.Metrics
	schemas  *requestSchemas
	cfg      Config
}

func (handler *httpHandler) handleCallback(ctx *gin.Context) {
	sessionID, ok := handler.sessionID(ctx)
	if !ok {
		return
	}
	var request callbackRequest
	if !handler.bindBody(ctx, schemaCallback, &request) {
		return
	}
	code, err := identity.ParseCallback(url.Values{
		"code":              {request.Code},
		"error":             {request.Error},
		"error_description": {request.ErrorDescription},
	})
	var callbackError *identity.CallbackError
	if errors.As(err, &callbackError) {
		ctx.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "identity_provider_error",
				"message": callbackError.Error(),
			},
			"provider_error":             callbackError.Code,
			"provider_error_description": callbackError.Description,
		})
		return
	}
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if handler.identity == nil {
		ctx.JSON(http.StatusServiceUnavailable, errorResponse("identity_unavailable", "identity provider is not configured"))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	raw, err := handler.identity.FetchUserInfo(requestCtx, code)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.startSession(ctx, requestCtx, sessionID, raw)
}

func (handler *httpHandler) handleProfile(ctx *gin.Context) {
	sessionID, ok := handler.sessionID(ctx)
	if !ok {
		return
	}
	body, ok := handler.readBody(ctx, schemaProfile)
	if !ok {
		return
	}
	raw, err := intake.ParseProfileJSON(body)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	handler.startSession(ctx, requestCtx, sessionID, raw)
}

func (handler *httpHandler) startSession(ctx *gin.Context, requestCtx context.Context, sessionID intake.SessionID, raw intake.RawProfile) {
	reconciliation, err := handler.service.StartSession(requestCtx, sessionID, raw)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, sessionResponse{
		Overview: reconciliation.Overview(),
		Profile:  reconciliation.Profile,
	})
}

func (handler *httpHandler) handleApplication(ctx *gin.Context) {
	form, ok := handler.openForm(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, newFormResponse(form, nil))
}

func (handler *httpHandler) handleTransactionLimit(ctx *gin.Context) {
	var request transactionLimitRequest
	if !handler.bindBody(ctx, schemaTransactionLimit, &request) {
		return
	}
	form, ok := handler.openForm(ctx)
	if !ok {
		return
	}
	ceiling := form.TransactionLimitCeiling()
	state, outcome := intake.UpdateTransactionLimit(request.Current, request.Input, ceiling)
	handler.metrics.ObserveLimitEdit(outcome)
	ctx.JSON(http.StatusOK, transactionLimitResponse{
		TransactionLimit:        state,
		Outcome:                 outcome,
		TransactionLimitCeiling: ceiling,
	})
}

func (handler *httpHandler) handleEvaluate(ctx *gin.Context) {
	var request applicationRequest
	if !handler.bindBody(ctx, schemaApplication, &request) {
		return
	}
	form, ok := handler.openForm(ctx)
	if !ok {
		return
	}
	rejected, err := applyApplication(form, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newFormResponse(form, rejected))
}

func (handler *httpHandler) handleSubmit(ctx *gin.Context) {
	sessionID, ok := handler.sessionID(ctx)
	if !ok {
		return
	}
	var request applicationRequest
	if !handler.bindBody(ctx, schemaApplication, &request) {
		return
	}
	form, ok := handler.openForm(ctx)
	if !ok {
		return
	}
	rejected, err := applyApplication(form, request)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	evaluation := form.Evaluate()
	if !evaluation.Submittable {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": gin.H{
				"code":    "form_incomplete",
				"message": "application is not ready for submission",
			},
			"field_errors":   evaluation.FieldErrors,
			"rejected_edits": rejected,
		})
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	receipt, err := handler.service.Submit(requestCtx, sessionID, form)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, submitResponse{
		ApplicationID: receipt.ApplicationID,
		SubmittedAt:   receipt.SubmittedAt,
		State:         form.State(),
	})
}

func (handler *httpHandler) openForm(ctx *gin.Context) (*intake.Form, bool) {
	sessionID, ok := handler.sessionID(ctx)
	if !ok {
		return nil, false
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	form, err := handler.service.OpenForm(requestCtx, sessionID)
	if err != nil {
		handler.respondError(ctx, err)
		return nil, false
	}
	return form, true
}

func (handler *httpHandler) sessionID(ctx *gin.Context) (intake.SessionID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return intake.SessionID{}, false
	}
	sessionID, err := intake.NewSessionID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "session has no user"))
		return intake.SessionID{}, false
	}
	return sessionID, true
}

func (handler *httpHandler) readBody(ctx *gin.Context, schemaName string) ([]byte, bool) {
	body, err := ctx.GetRawData()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return nil, false
	}
	if err := handler.schemas.validate(schemaName, body); err != nil {
		var violation *schemaViolation
		if errors.As(err, &violation) {
			ctx.JSON(http.StatusBadRequest, gin.H{
				"error":   gin.H{"code": "invalid_payload", "message": "request body does not match schema"},
				"details": violation.details,
			})
			return nil, false
		}
		handler.logger.Error("schema validation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "validation failed"))
		return nil, false
	}
	return body, true
}

func (handler *httpHandler) bindBody(ctx *gin.Context, schemaName string, target any) bool {
	body, ok := handler.readBody(ctx, schemaName)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, intake.ErrProfileNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("profile_not_found", "no identity profile for this session"))
	case errors.Is(err, intake.ErrDuplicateApplication):
		ctx.JSON(http.StatusConflict, errorResponse("duplicate_application", "an application was already submitted"))
	case errors.Is(err, intake.ErrFormIncomplete):
		ctx.JSON(http.StatusUnprocessableEntity, errorResponse("form_incomplete", "application is not ready for submission"))
	case errors.Is(err, intake.ErrFormSubmitted):
		ctx.JSON(http.StatusConflict, errorResponse("form_submitted", "application already submitted"))
	case errors.Is(err, identity.ErrMissingCode):
		ctx.JSON(http.StatusBadRequest, errorResponse("missing_code", "authorization code is required"))
	case errors.Is(err, identity.ErrExchangeFailed), errors.Is(err, identity.ErrInvalidUserInfo):
		handler.logger.Warn("identity exchange failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse("identity_error", "user info exchange failed"))
	case errors.Is(err, intake.ErrInvalidProfilePayload):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_profile", "user info must be a JSON object"))
	case errors.Is(err, intake.ErrInvalidSessionID):
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session"))
	default:
		handler.logger.Error("intake request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "request failed"))
	}
}

// applyApplication replays a request onto a freshly opened form. Read-only
// fields are skipped; edits the form refuses are reported by key.
func applyApplication(form *intake.Form, request applicationRequest) (map[string]string, error) {
	rejected := make(map[string]string)
	for _, field := range intake.FormFields() {
		value, present := request.PersonalInfo[string(field)]
		if !present || form.ReadOnly(field) {
			continue
		}
		if err := form.SetField(field, value); err != nil {
			if errors.Is(err, intake.ErrEditRejected) {
				rejected[string(field)] = editRejected
				continue
			}
			return nil, err
		}
	}
	if err := form.SetAccountType(request.AccountType); err != nil {
		if !errors.Is(err, intake.ErrInvalidAccountType) {
			return nil, err
		}
		rejected[keyAccount] = intake.FieldErrorInvalidAccountType
	}
	outcome, err := form.SetTransactionLimit(request.TransactionLimit)
	if err != nil {
		return nil, err
	}
	if outcome == intake.LimitEditRejected || outcome == intake.LimitEditNotFinite {
		rejected[keyLimit] = string(outcome)
	}
	toggles := map[intake.Toggle]bool{
		intake.ToggleInternetBanking:           request.ChannelAccess.InternetBanking,
		intake.ToggleMobileBanking:             request.ChannelAccess.MobileBanking,
		intake.ToggleATMDebitCard:              request.ChannelAccess.ATMDebitCard,
		intake.ToggleDomesticTransactions:      request.PaymentCapabilities.DomesticTransactions,
		intake.ToggleInternationalTransactions: request.PaymentCapabilities.InternationalTransactions,
		intake.ToggleConsent:                   request.Consent,
	}
	for toggle, enabled := range toggles {
		if err := form.SetToggle(toggle, enabled); err != nil {
			return nil, err
		}
	}
	return rejected, nil
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type callbackRequest struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type transactionLimitRequest struct {
	Current intake.TransactionLimitState `json:"current"`
	Input   string                       `json:"input"`
}

type applicationRequest struct {
	AccountType         string                     `json:"account_type"`
	TransactionLimit    string                     `json:"transaction_limit"`
	PersonalInfo        map[string]string          `json:"personal_info"`
	ChannelAccess       intake.ChannelAccess       `json:"channel_access"`
	PaymentCapabilities intake.PaymentCapabilities `json:"payment_capabilities"`
	Consent             bool                       `json:"consent"`
}

type sessionResponse struct {
	Overview intake.Overview          `json:"overview"`
	Profile  intake.ReconciledProfile `json:"profile"`
}

type formResponse struct {
	Overview                intake.Overview              `json:"overview"`
	Profile                 intake.ReconciledProfile     `json:"profile"`
	PersonalInfo            intake.EditableOverlay       `json:"personal_info"`
	ReadOnlyFields          []intake.FormField           `json:"read_only_fields"`
	Selections              intake.ApplicationSelections `json:"selections"`
	AccountTypes            []intake.AccountType         `json:"account_types"`
	TransactionLimitCeiling int64                        `json:"transaction_limit_ceiling"`
	MinimumTransactionLimit int64                        `json:"minimum_transaction_limit"`
	State                   intake.FormState             `json:"state"`
	Evaluation              intake.Evaluation            `json:"evaluation"`
	RejectedEdits           map[string]string            `json:"rejected_edits,omitempty"`
}

func newFormResponse(form *intake.Form, rejected map[string]string) formResponse {
	reconciliation := form.Reconciliation()
	return formResponse{
		Overview:                reconciliation.Overview(),
		Profile:                 reconciliation.Profile,
		PersonalInfo:            form.Overlay(),
		ReadOnlyFields:          form.ReadOnlyFields(),
		Selections:              form.Selections(),
		AccountTypes:            intake.AccountTypes(),
		TransactionLimitCeiling: form.TransactionLimitCeiling(),
		MinimumTransactionLimit: intake.MinimumTransactionLimit,
		State:                   form.State(),
		Evaluation:              form.Evaluate(),
		RejectedEdits:           rejected,
	}
}

type transactionLimitResponse struct {
	TransactionLimit        intake.TransactionLimitState `json:"transaction_limit"`
	Outcome                 intake.LimitEditOutcome      `json:"outcome"`
	TransactionLimitCeiling int64                        `json:"transaction_limit_ceiling"`
}

type submitResponse struct {
	ApplicationID string           `json:"application_id"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	State         intake.FormState `json:"state"`
}
