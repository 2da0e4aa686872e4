package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/servicehub-backend/api/controllers"
	paymentcontrollers "github.com/angelmondragon/servicehub-backend/api/controllers/payments"
	webhookcontrollers "github.com/angelmondragon/servicehub-backend/api/controllers/webhooks"
	"github.com/angelmondragon/servicehub-backend/api/middleware"
	"github.com/angelmondragon/servicehub-backend/pkg/config"
	"github.com/angelmondragon/servicehub-backend/pkg/db"
	"github.com/angelmondragon/servicehub-backend/pkg/enums"
	"github.com/angelmondragon/servicehub-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/servicehub-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP edge relies on.
type RedisStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient RedisStore,
	metricsHandler http.Handler,
	releaseService paymentcontrollers.Releaser,
	reconciler paymentcontrollers.Reconciler,
	webhookService webhookcontrollers.GatewayWebhookService,
	webhookActivity controllers.WebhookActivityReader,
	refundService controllers.PaymentRefunder,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Recoverer(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.HTTP.CORSOrigins),
	)

	paymentPolicy := middleware.NewRateLimitPolicy("payments", cfg.HTTP.RateLimitWindow, 0, cfg.HTTP.PaymentRateLimit)
	webhookPolicy := middleware.NewRateLimitPolicy("webhooks", cfg.HTTP.RateLimitWindow, cfg.HTTP.WebhookRateLimit, 0)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}, logg))
	})

	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, redisClient, logg)).
			Post("/gateway", webhookcontrollers.GatewayWebhook(webhookService, cfg.Webhook.MaxBody, logg))
	})

	r.Route("/api/v1/payment", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit(paymentPolicy, redisClient, logg))

		idempotent := r.With(middleware.Idempotency(redisClient, logg, middleware.ReleaseIdempotency))
		idempotent.Post("/release", paymentcontrollers.Release(releaseService, logg))
		idempotent.Post("/cash-release", paymentcontrollers.CashRelease(releaseService, logg))
		r.Post("/verify", paymentcontrollers.Verify(reconciler, logg))
		r.Post("/recover-status", paymentcontrollers.RecoverStatus(reconciler, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))

		r.Get("/webhooks/gateway", controllers.AdminGatewayWebhooks(webhookActivity, logg))
		r.With(middleware.Idempotency(redisClient, logg, middleware.RefundIdempotency)).
			Post("/payments/{paymentId}/refund", controllers.AdminRefundPayment(refundService, logg))
	})

	return r
}
