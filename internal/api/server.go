package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/billingworks/creditledger/internal/generation"
	"github.com/billingworks/creditledger/pkg/credits"
	"github.com/billingworks/creditledger/pkg/proration"
)

// CreditService is the ledger surface the façade exposes.
type CreditService interface {
	ValidateCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (bool, error)
	AllocateCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (credits.Allocation, error)
	ConsumeCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	ReleaseCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	DeductCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	RefundCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	GrantCredits(ctx context.Context, workspaceID credits.WorkspaceID, amount credits.CreditAmount) (int64, error)
	CreditBalance(ctx context.Context, workspaceID credits.WorkspaceID) (credits.Balance, error)
}

// WorkspaceAdmin covers workspace provisioning and audit history.
type WorkspaceAdmin interface {
	CreateWorkspace(ctx context.Context, workspaceID credits.WorkspaceID, initialCredits int64) error
	ListCreditEntries(ctx context.Context, workspaceID credits.WorkspaceID, limit int) ([]credits.CreditEntry, error)
}

// ProrationService computes plan-change amounts and provider previews.
type ProrationService interface {
	CalculateProration(ctx context.Context, subscriptionID string, newPlanID string) (proration.Details, error)
	StripeProrationPreview(ctx context.Context, subscriptionID string, newPlanID string) (proration.Preview, error)
}

// GenerationHistory lists past generation records.
type GenerationHistory interface {
	ListRecords(ctx context.Context, workspaceID string, limit int) ([]generation.Record, error)
}

// Dependencies bundles the services the façade routes to.
type Dependencies struct {
	Credits     CreditService
	Workspaces  WorkspaceAdmin
	Proration   ProrationService
	Generations GenerationHistory
}

// Run boots the HTTP façade and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, cfg Config, logger *zap.Logger, deps Dependencies) error {
	router := setupRouter(cfg, newHandler(cfg, logger, deps))

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("creditledger api listening", zap.String("addr", cfg.ListenAddr))
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

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.allowedOrigins(),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")

	apiGroup.POST("/workspaces", handler.handleCreateWorkspace)
	apiGroup.GET("/workspaces/:workspace_id/balance", handler.handleBalance)
	apiGroup.GET("/workspaces/:workspace_id/entries", handler.handleListEntries)
	apiGroup.GET("/workspaces/:workspace_id/generations", handler.handleListGenerations)

	creditsGroup := apiGroup.Group("/workspaces/:workspace_id/credits")
	creditsGroup.POST("/validate", handler.handleValidate)
	creditsGroup.POST("/allocate", handler.handleAllocate)
	creditsGroup.POST("/consume", handler.handleConsume)
	creditsGroup.POST("/release", handler.handleRelease)
	creditsGroup.POST("/deduct", handler.handleDeduct)
	creditsGroup.POST("/refund", handler.handleRefund)
	creditsGroup.POST("/grant", handler.handleGrant)

	apiGroup.POST("/proration/calculate", handler.handleProrationCalculate)
	apiGroup.POST("/proration/preview", handler.handleProrationPreview)

	return router
}
