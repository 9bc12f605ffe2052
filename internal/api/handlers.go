package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/proration"
)

type httpHandler struct {
	cfg    Config
	logger *zap.Logger
	deps   Dependencies
}

func newHandler(cfg Config, logger *zap.Logger, deps Dependencies) *httpHandler {
	return &httpHandler{cfg: cfg, logger: logger, deps: deps}
}

type createWorkspaceRequest struct {
	WorkspaceID    string `json:"workspace_id"`
	InitialCredits int64  `json:"initial_credits"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type prorationRequest struct {
	SubscriptionID string `json:"subscription_id"`
	NewPlanID      string `json:"new_plan_id"`
}

func (handler *httpHandler) handleCreateWorkspace(ctx *gin.Context) {
	var request createWorkspaceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	workspaceID, err := credits.NewWorkspaceID(request.WorkspaceID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_workspace_id", err.Error()))
		return
	}
	if request.InitialCredits < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_initial_credits", "initial credits must not be negative"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.deps.Workspaces.CreateWorkspace(requestCtx, workspaceID, request.InitialCredits); err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"workspace_id":    workspaceID.String(),
		"initial_credits": request.InitialCredits,
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	workspaceID, ok := handler.workspaceID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.deps.Credits.CreditBalance(requestCtx, workspaceID)
	if err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"workspace_id":      workspaceID.String(),
		"total_credits":     balance.TotalCredits,
		"allocated_credits": balance.AllocatedCredits,
		"available_credits": balance.AvailableCredits,
	})
}

func (handler *httpHandler) handleValidate(ctx *gin.Context) {
	workspaceID, amount, ok := handler.workspaceAmount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	sufficient, err := handler.deps.Credits.ValidateCredits(requestCtx, workspaceID, amount)
	if err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"sufficient": sufficient})
}

func (handler *httpHandler) handleAllocate(ctx *gin.Context) {
	workspaceID, amount, ok := handler.workspaceAmount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	allocation, err := handler.deps.Credits.AllocateCredits(requestCtx, workspaceID, amount)
	if err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"allocation_id":     allocation.AllocationID,
		"remaining_credits": allocation.RemainingCredits,
	})
}

func (handler *httpHandler) handleConsume(ctx *gin.Context) {
	handler.handleAmountOperation(ctx, handler.deps.Credits.ConsumeCredits, "remaining_credits")
}

func (handler *httpHandler) handleRelease(ctx *gin.Context) {
	handler.handleAmountOperation(ctx, handler.deps.Credits.ReleaseCredits, "available_credits")
}

func (handler *httpHandler) handleDeduct(ctx *gin.Context) {
	handler.handleAmountOperation(ctx, handler.deps.Credits.DeductCredits, "remaining_credits")
}

func (handler *httpHandler) handleRefund(ctx *gin.Context) {
	handler.handleAmountOperation(ctx, handler.deps.Credits.RefundCredits, "available_credits")
}

func (handler *httpHandler) handleGrant(ctx *gin.Context) {
	handler.handleAmountOperation(ctx, handler.deps.Credits.GrantCredits, "available_credits")
}

func (handler *httpHandler) handleAmountOperation(
	ctx *gin.Context,
	operation func(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error),
	resultKey string,
) {
	workspaceID, amount, ok := handler.workspaceAmount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	result, err := operation(requestCtx, workspaceID, amount)
	if err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{resultKey: result})
}

func (handler *httpHandler) handleListEntries(ctx *gin.Context) {
	workspaceID, ok := handler.workspaceID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	entries, err := handler.deps.Workspaces.ListCreditEntries(requestCtx, workspaceID, queryLimit(ctx))
	if err != nil {
		handler.respondCreditError(ctx, err)
		return
	}
	payload := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, gin.H{
			"entry_id":         entry.EntryID,
			"operation":        entry.Operation,
			"amount":           entry.Amount,
			"allocation_id":    entry.AllocationID,
			"created_unix_utc": entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": payload})
}

func (handler *httpHandler) handleListGenerations(ctx *gin.Context) {
	workspaceID, ok := handler.workspaceID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	records, err := handler.deps.Generations.ListRecords(requestCtx, workspaceID.String(), queryLimit(ctx))
	if err != nil {
		handler.logger.Error("generation history failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("history_error", "generation history unavailable"))
		return
	}
	payload := make([]gin.H, 0, len(records))
	for _, record := range records {
		payload = append(payload, gin.H{
			"generation_id":    record.ID,
			"type":             string(record.Type),
			"model":            record.Model,
			"provider":         record.Provider,
			"status":           string(record.Status),
			"credits_charged":  record.CreditsCharged,
			"error":            record.Error,
			"created_unix_utc": record.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"generations": payload})
}

func (handler *httpHandler) handleProrationCalculate(ctx *gin.Context) {
	var request prorationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	details, err := handler.deps.Proration.CalculateProration(requestCtx, request.SubscriptionID, request.NewPlanID)
	if err != nil {
		handler.respondProrationError(ctx, err)
		return
	}
	breakdown := proration.FormatBreakdown(details)
	lines := make([]gin.H, 0, len(breakdown.Lines))
	for _, line := range breakdown.Lines {
		lines = append(lines, gin.H{
			"label":        line.Label,
			"amount_cents": line.AmountCents,
			"amount":       proration.FormatCents(line.AmountCents),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"subscription_id":           details.SubscriptionID,
		"current_plan_id":           details.CurrentPlanID,
		"new_plan_id":               details.NewPlanID,
		"is_upgrade":                details.IsUpgrade,
		"total_days_in_period":      details.TotalDaysInPeriod,
		"days_remaining":            details.DaysRemaining,
		"prorated_amount_cents":     details.ProratedAmountCents,
		"credit_amount_cents":       details.CreditAmountCents,
		"immediate_charge_cents":    details.ImmediateChargeCents,
		"next_billing_amount_cents": details.NextBillingAmountCents,
		"effective_date":            details.EffectiveDate.UTC(),
		"breakdown":                 gin.H{"lines": lines, "summary": breakdown.Summary},
	})
}

func (handler *httpHandler) handleProrationPreview(ctx *gin.Context) {
	var request prorationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	preview, err := handler.deps.Proration.StripeProrationPreview(requestCtx, request.SubscriptionID, request.NewPlanID)
	if err != nil {
		handler.respondProrationError(ctx, err)
		return
	}
	lines := make([]gin.H, 0, len(preview.Lines))
	for _, line := range preview.Lines {
		lines = append(lines, gin.H{
			"description":  line.Description,
			"amount_cents": line.AmountCents,
			"proration":    line.Proration,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{
		"proration_amount_cents": preview.ProrationAmountCents,
		"lines":                  lines,
	})
}

func (handler *httpHandler) workspaceID(ctx *gin.Context) (credits.WorkspaceID, bool) {
	workspaceID, err := credits.NewWorkspaceID(ctx.Param("workspace_id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_workspace_id", err.Error()))
		return credits.WorkspaceID{}, false
	}
	return workspaceID, true
}

func (handler *httpHandler) workspaceAmount(ctx *gin.Context) (credits.WorkspaceID, credits.CreditAmount, bool) {
	workspaceID, ok := handler.workspaceID(ctx)
	if !ok {
		return credits.WorkspaceID{}, 0, false
	}
	var request amountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return credits.WorkspaceID{}, 0, false
	}
	amount, err := credits.NewCreditAmount(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_amount", err.Error()))
		return credits.WorkspaceID{}, 0, false
	}
	return workspaceID, amount, true
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.requestTimeout())
}

func (handler *httpHandler) respondCreditError(ctx *gin.Context, err error) {
	var insufficient credits.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		ctx.JSON(http.StatusPaymentRequired, gin.H{
			"error": gin.H{
				"code":      "insufficient_credits",
				"message":   insufficient.Error(),
				"required":  insufficient.Required,
				"available": insufficient.Available,
			},
		})
		return
	}
	switch {
	case errors.Is(err, credits.ErrWorkspaceNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("workspace_not_found", err.Error()))
	case errors.Is(err, credits.ErrWorkspaceExists):
		ctx.JSON(http.StatusConflict, errorResponse("workspace_exists", err.Error()))
	case errors.Is(err, credits.ErrConsumeExceedsAllocation),
		errors.Is(err, credits.ErrReleaseExceedsAllocation):
		ctx.JSON(http.StatusConflict, errorResponse("allocation_exceeded", err.Error()))
	case errors.Is(err, credits.ErrInvalidWorkspaceID),
		errors.Is(err, credits.ErrInvalidCreditAmount):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	default:
		handler.logger.Error("ledger operation failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("ledger_error", "operation failed"))
	}
}

func (handler *httpHandler) respondProrationError(ctx *gin.Context, err error) {
	code := proration.ErrorCode(err)
	switch code {
	case proration.CodeSubscriptionNotFound, proration.CodePlanNotFound:
		ctx.JSON(http.StatusNotFound, errorResponse(code, err.Error()))
	case proration.CodePlanInactive, proration.CodeIntervalMismatch:
		ctx.JSON(http.StatusBadRequest, errorResponse(code, err.Error()))
	case proration.CodeStripePreviewFailed:
		handler.logger.Error("stripe preview failed", zap.Error(err))
		ctx.JSON(http.StatusBadGateway, errorResponse(code, "provider preview unavailable"))
	default:
		handler.logger.Error("proration failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(proration.CodeCalculationFailed, "proration failed"))
	}
}

func queryLimit(ctx *gin.Context) int {
	raw := ctx.Query("limit")
	if raw == "" {
		return defaultHistoryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
