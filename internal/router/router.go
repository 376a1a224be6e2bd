package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/billing-webhooks/internal/handler/health"
	webhookHandler "github.com/jwalitptl/billing-webhooks/internal/handler/webhook"
	"github.com/jwalitptl/billing-webhooks/internal/middleware"
)

type Config struct {
	RateLimit    rate.Limit
	RateBurst    int
	MaxBodyBytes int64
}

type Router struct {
	engine   *gin.Engine
	webhookH *webhookHandler.Handler
	healthH  *health.Handler
	auth     *middleware.OperatorAuth
	config   Config
}

func NewRouter(
	webhookH *webhookHandler.Handler,
	healthH *health.Handler,
	auth *middleware.OperatorAuth,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:   gin.New(),
		webhookH: webhookH,
		healthH:  healthH,
		auth:     auth,
		config:   config,
	}

	r.engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
	)

	return r
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.healthH.RegisterRoutes(root)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1")

	// The ingress endpoint authenticates with the signature itself and is
	// not behind the operator rate limit; throttling the provider only
	// turns into redelivery pressure.
	ingress := api.Group("", middleware.SizeLimit(r.config.MaxBodyBytes))
	r.webhookH.RegisterIngressRoutes(ingress)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  r.config.RateLimit,
		Burst: r.config.RateBurst,
	})
	operator := api.Group("", r.auth.Authenticate(), rateLimiter.RateLimit())
	r.webhookH.RegisterOperatorRoutes(operator)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
