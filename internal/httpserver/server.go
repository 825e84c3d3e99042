// Package httpserver is the JSON facade the stream UI talks to: host session
// management, guest payment evidence (registration, polling, monetization
// stream events), and the gated question-submission flow.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/askstream/askstream/pkg/credits"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Run boots the HTTP facade and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service *credits.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router := NewRouter(cfg, service, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("askstream api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires the gin engine. Exposed separately so tests can drive the
// handlers without a listening socket.
func NewRouter(cfg Config, service *credits.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{logger: logger, service: service}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	host := api.Group("")
	host.Use(requireHost(cfg.HostSigningKey))
	host.POST("/sessions", handler.handleCreateSession)
	host.GET("/sessions/:sessionID/questions", handler.handleListQuestions)
	host.PATCH("/sessions/:sessionID/questions/:questionID", handler.handleMarkQuestion)

	api.GET("/sessions/:sessionID", handler.handleGetSession)
	api.POST("/sessions/:sessionID/questions", handler.handleSubmitQuestion)
	api.POST("/sessions/:sessionID/guests/:guestID/payments", handler.handleRegisterPayment)
	api.POST("/sessions/:sessionID/guests/:guestID/poll", handler.handlePoll)
	api.POST("/sessions/:sessionID/guests/:guestID/events", handler.handleMonetizationEvent)
	api.GET("/sessions/:sessionID/guests/:guestID/balance", handler.handleGetBalance)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service *credits.Service
}

type createSessionRequest struct {
	Title         string `json:"title"`
	QuestionPrice int64  `json:"question_price"`
	AssetCode     string `json:"asset_code"`
	AssetScale    int32  `json:"asset_scale"`
}

type registerPaymentRequest struct {
	IncomingPaymentURL string `json:"incoming_payment_url"`
	AssetCode          string `json:"asset_code"`
	AssetScale         int32  `json:"asset_scale"`
}

type monetizationEventRequest struct {
	AmountValue int64  `json:"amount_value"`
	AssetCode   string `json:"asset_code"`
	AssetScale  int32  `json:"asset_scale"`
}

type submitQuestionRequest struct {
	GuestID    string `json:"guest_id"`
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
}

type markQuestionRequest struct {
	Status string `json:"status"`
}

func (handler *httpHandler) handleCreateSession(ctx *gin.Context) {
	var request createSessionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	session, err := handler.service.CreateSession(ctx.Request.Context(), credits.Session{
		HostID:        hostIDFromContext(ctx),
		Title:         request.Title,
		QuestionPrice: request.QuestionPrice,
		AssetCode:     request.AssetCode,
		AssetScale:    request.AssetScale,
	})
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, sessionPayloadFrom(session))
}

func (handler *httpHandler) handleGetSession(ctx *gin.Context) {
	session, found, err := handler.service.Session(ctx.Request.Context(), ctx.Param("sessionID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if !found {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_session", "session not found"))
		return
	}
	ctx.JSON(http.StatusOK, sessionPayloadFrom(session))
}

func (handler *httpHandler) handleListQuestions(ctx *gin.Context) {
	questions, err := handler.service.SessionQuestions(ctx.Request.Context(), ctx.Param("sessionID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]questionPayload, 0, len(questions))
	for _, question := range questions {
		payload = append(payload, questionPayloadFrom(question))
	}
	ctx.JSON(http.StatusOK, gin.H{"questions": payload})
}

func (handler *httpHandler) handleMarkQuestion(ctx *gin.Context) {
	var request markQuestionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	status, err := credits.ParseQuestionStatus(request.Status)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_status", "status must be answered or skipped"))
		return
	}
	if err := handler.service.MarkQuestion(ctx.Request.Context(), ctx.Param("sessionID"), ctx.Param("questionID"), status); err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"status": status.String()})
}

func (handler *httpHandler) handleSubmitQuestion(ctx *gin.Context) {
	var request submitQuestionRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	question, err := handler.service.SubmitQuestion(ctx.Request.Context(), request.GuestID, ctx.Param("sessionID"), request.AuthorName, request.Text)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, questionPayloadFrom(question))
}

func (handler *httpHandler) handleRegisterPayment(ctx *gin.Context) {
	var request registerPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	record, err := handler.service.RegisterIncomingPaymentURL(
		ctx.Request.Context(),
		ctx.Param("guestID"),
		ctx.Param("sessionID"),
		request.IncomingPaymentURL,
		request.AssetCode,
		request.AssetScale,
	)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, paymentRecordPayloadFrom(record))
}

func (handler *httpHandler) handlePoll(ctx *gin.Context) {
	result, err := handler.service.PollAndReconcile(ctx.Request.Context(), ctx.Param("guestID"), ctx.Param("sessionID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total_received": result.TotalReceived,
		"previous_total": result.PreviousTotal,
		"updated":        result.Updated,
		"asset_code":     result.AssetCode,
		"asset_scale":    result.AssetScale,
	})
}

func (handler *httpHandler) handleMonetizationEvent(ctx *gin.Context) {
	var request monetizationEventRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	record, err := handler.service.IncrementBalance(
		ctx.Request.Context(),
		ctx.Param("guestID"),
		ctx.Param("sessionID"),
		credits.Amount{Value: request.AmountValue, AssetCode: request.AssetCode, AssetScale: request.AssetScale},
	)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, paymentRecordPayloadFrom(record))
}

func (handler *httpHandler) handleGetBalance(ctx *gin.Context) {
	balance, err := handler.service.GuestBalance(ctx.Request.Context(), ctx.Param("guestID"), ctx.Param("sessionID"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"total_received":   balance.TotalReceived,
		"balance":          balance.Balance,
		"question_credits": balance.QuestionCredits,
		"credits_used":     balance.CreditsUsed,
		"asset_code":       balance.AssetCode,
		"asset_scale":      balance.AssetScale,
	})
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, credits.ErrInsufficientCredits):
		ctx.JSON(http.StatusPaymentRequired, errorResponse("insufficient_credits", "not enough credits for a question"))
	case errors.Is(err, credits.ErrUnknownSession):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_session", "session not found"))
	case errors.Is(err, credits.ErrUnknownQuestion):
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_question", "question not found"))
	case errors.Is(err, credits.ErrSessionExists):
		ctx.JSON(http.StatusConflict, errorResponse("session_exists", "session already exists"))
	case errors.Is(err, credits.ErrQuestionClosed):
		ctx.JSON(http.StatusConflict, errorResponse("question_closed", "question already answered or skipped"))
	case errors.Is(err, credits.ErrInvalidGuestID),
		errors.Is(err, credits.ErrInvalidSessionID),
		errors.Is(err, credits.ErrInvalidHostID),
		errors.Is(err, credits.ErrInvalidPaymentURL),
		errors.Is(err, credits.ErrInvalidAmount),
		errors.Is(err, credits.ErrInvalidAssetCode),
		errors.Is(err, credits.ErrInvalidAssetScale),
		errors.Is(err, credits.ErrInvalidQuestionText),
		errors.Is(err, credits.ErrInvalidQuestionStatus),
		errors.Is(err, credits.ErrInvalidQuestionPrice):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Info("http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type sessionPayload struct {
	SessionID     string `json:"session_id"`
	HostID        string `json:"host_id"`
	Title         string `json:"title"`
	QuestionPrice int64  `json:"question_price"`
	AssetCode     string `json:"asset_code"`
	AssetScale    int32  `json:"asset_scale"`
	CreatedAt     int64  `json:"created_unix_utc"`
}

func sessionPayloadFrom(session credits.Session) sessionPayload {
	return sessionPayload{
		SessionID:     session.SessionID,
		HostID:        session.HostID,
		Title:         session.Title,
		QuestionPrice: session.QuestionPrice,
		AssetCode:     session.AssetCode,
		AssetScale:    session.AssetScale,
		CreatedAt:     session.CreatedUnixUTC,
	}
}

type questionPayload struct {
	QuestionID string `json:"question_id"`
	SessionID  string `json:"session_id"`
	GuestID    string `json:"guest_id"`
	AuthorName string `json:"author_name"`
	Text       string `json:"text"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_unix_utc"`
}

func questionPayloadFrom(question credits.Question) questionPayload {
	return questionPayload{
		QuestionID: question.QuestionID,
		SessionID:  question.SessionID,
		GuestID:    question.GuestID,
		AuthorName: question.AuthorName,
		Text:       question.Text,
		Status:     question.Status.String(),
		CreatedAt:  question.CreatedUnixUTC,
	}
}

type paymentRecordPayload struct {
	GuestID             string   `json:"guest_id"`
	SessionID           string   `json:"session_id"`
	IncomingPaymentURLs []string `json:"incoming_payment_urls"`
	TotalReceived       int64    `json:"total_received"`
	AssetCode           string   `json:"asset_code"`
	AssetScale          int32    `json:"asset_scale"`
	LastUpdated         int64    `json:"last_updated_unix_utc"`
}

func paymentRecordPayloadFrom(record credits.PaymentRecord) paymentRecordPayload {
	return paymentRecordPayload{
		GuestID:             record.GuestID,
		SessionID:           record.SessionID,
		IncomingPaymentURLs: record.IncomingPaymentURLs,
		TotalReceived:       record.TotalReceived(),
		AssetCode:           record.AssetCode,
		AssetScale:          record.AssetScale,
		LastUpdated:         record.LastUpdated,
	}
}
