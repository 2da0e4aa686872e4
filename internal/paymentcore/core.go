// Package paymentcore assembles the escrow lifecycle services shared by the API
// and the cron worker.
package paymentcore

import (
	"fmt"
	"time"

	"github.com/angelmondragon/servicehub-backend/internal/escrow"
	"github.com/angelmondragon/servicehub-backend/internal/notifications"
	"github.com/angelmondragon/servicehub-backend/internal/payouts"
	"github.com/angelmondragon/servicehub-backend/internal/reconcile"
	gatewaywebhook "github.com/angelmondragon/servicehub-backend/internal/webhooks/gateway"
	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	"github.com/angelmondragon/servicehub-backend/pkg/metrics"
	"github.com/angelmondragon/servicehub-backend/pkg/outbox"
	"github.com/angelmondragon/servicehub-backend/pkg/paystack"
)

// Gateway is the full payment gateway surface used across the core.
type Gateway interface {
	reconcile.Gateway
	payouts.Gateway
	VerifySignature(body []byte, signature string) bool
}

type Params struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *db.Client
	Gateway Gateway
	// Redis backs the webhook in-flight guard. Without it the webhook service is not built.
	Redis   gatewaywebhook.GuardStore
	Metrics *metrics.PaymentMetrics
	Now     func() time.Time
}

// Core holds the wired payment services.
type Core struct {
	EscrowRepo  escrow.Repository
	Machine     *escrow.Machine
	Notifier    *notifications.Service
	Reconciler  *reconcile.Engine
	Payouts     *payouts.Service
	WebhookRepo gatewaywebhook.Repository
	Webhooks    *gatewaywebhook.Service
}

func New(params Params) (*Core, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	cfg := params.Config
	conn := params.DB.DB()

	escrowRepo := escrow.NewRepository(conn)
	machine, err := escrow.NewMachine(escrow.MachineParams{
		DB:      params.DB,
		Repo:    escrowRepo,
		Logger:  params.Logger,
		Metrics: params.Metrics,
		Now:     params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow machine: %w", err)
	}

	notifier, err := notifications.NewService(notifications.ServiceParams{
		DB:         params.DB,
		Repo:       notifications.NewRepository(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), params.Logger),
		Logger:     params.Logger,
		Enabled:    cfg.Eventing.OutboxEnabled,
		MaxRetries: cfg.Eventing.NotifyMaxRetries,
		Backoff:    cfg.Eventing.NotifyBackoff,
	})
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	webhookRepo := gatewaywebhook.NewRepository(conn)

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Repo:     escrowRepo,
		Machine:  machine,
		Gateway:  params.Gateway,
		Evidence: webhookRepo,
		Notifier: notifier,
		Logger:   params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile engine: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Repo:            payouts.NewRepository(conn),
		Payments:        escrowRepo,
		Machine:         machine,
		Gateway:         params.Gateway,
		Notifier:        notifier,
		Logger:          params.Logger,
		Metrics:         params.Metrics,
		TransferTimeout: cfg.Paystack.Timeout,
		TransferSource:  cfg.Paystack.TransferSource,
		Currency:        cfg.Paystack.Currency,
		Now:             params.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("payouts: %w", err)
	}

	core := &Core{
		EscrowRepo:  escrowRepo,
		Machine:     machine,
		Notifier:    notifier,
		Reconciler:  engine,
		Payouts:     payoutSvc,
		WebhookRepo: webhookRepo,
	}

	if params.Redis != nil {
		guard, err := gatewaywebhook.NewInFlightGuard(params.Redis, cfg.Webhook.GuardTTL)
		if err != nil {
			return nil, fmt.Errorf("webhook guard: %w", err)
		}
		core.Webhooks, err = gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
			Repo:       webhookRepo,
			Payments:   escrowRepo,
			Verifier:   params.Gateway,
			Reconciler: engine,
			Payouts:    payoutSvc,
			Machine:    machine,
			Guard:      guard,
			Notifier:   notifier,
			Logger:     params.Logger,
			Metrics:    params.Metrics,
			Now:        params.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("webhook service: %w", err)
		}
	}

	return core, nil
}

var _ Gateway = (*paystack.Client)(nil)
