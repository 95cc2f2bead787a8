package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
	"payrecon.com/internal/recon/service"
	"payrecon.com/pkg/middleware"
	"payrecon.com/pkg/ratelimit"
)

type Options struct {
	ServiceName string
	// 每 IP+路由 的令牌桶
	Rate  float64
	Burst int
	// Sentinel 规则由 bootstrap 加载，这里只挂中间件
	Sentinel bool
	// Metrics 挂 go-gin-prometheus，会在默认 registry 注册指标
	Metrics bool
}

// NewRouter ctx 取消时停掉限流器的清理协程
func NewRouter(ctx context.Context, svc *service.Recon, opt Options) http.Handler {
	if opt.ServiceName == "" {
		opt.ServiceName = "recon-service"
	}
	if opt.Rate <= 0 {
		opt.Rate = 50
	}
	if opt.Burst <= 0 {
		opt.Burst = 100
	}
	buckets := ratelimit.NewBuckets(rate.Limit(opt.Rate), opt.Burst, 10*time.Minute)
	buckets.EvictIdle(ctx, time.Minute)

	r := gin.New()
	if opt.Metrics {
		p := ginprom.NewPrometheus("recon")
		p.Use(r)
	}
	r.Use(
		otelgin.Middleware(opt.ServiceName),
		middleware.RequestID(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(buckets),
	)
	if opt.Sentinel {
		r.Use(middleware.Sentinel())
	}

	h := &Handler{svc: svc}
	api := r.Group("/api")
	Deposits(api, h)
	Gateway(api, h)
	api.GET("/payment-instructions", h.PaymentInstructions)

	admin := api.Group("/admin")
	AdminDeposits(admin, h)
	Ledger(admin, h)
	Accounts(admin, h)
	admin.POST("/sweep", h.Sweep)
	return r
}

func Deposits(api *gin.RouterGroup, h *Handler) {
	g := api.Group("/deposits")
	{
		g.POST("", h.CreateDeposit)
		g.GET("", h.ListDeposits)
		g.GET("/:id", h.GetDeposit)
		g.POST("/:id/proof", h.SubmitProof)
	}
}

func AdminDeposits(admin *gin.RouterGroup, h *Handler) {
	g := admin.Group("/deposits")
	{
		g.POST("/:id/approve", h.ApproveDeposit)
		g.POST("/:id/reject", h.RejectDeposit)
	}
}

func Ledger(admin *gin.RouterGroup, h *Handler) {
	g := admin.Group("/ledger")
	{
		g.GET("", h.ListLedger)
		g.POST("", h.PushLedger)
		g.POST("/:id/release", h.ReleaseLedger)
	}
}

func Accounts(admin *gin.RouterGroup, h *Handler) {
	g := admin.Group("/accounts")
	{
		g.POST("", h.ProposeAccount)
		g.GET("", h.ListAccounts)
		g.POST("/:id/approve", h.ApproveAccount)
		g.POST("/:id/reject", h.RejectAccount)
		g.POST("/:id/activate", h.ActivateAccount)
		g.POST("/:id/deactivate", h.DeactivateAccount)
		g.DELETE("/:id", h.DeleteAccount)
	}
}

func Gateway(api *gin.RouterGroup, h *Handler) {
	g := api.Group("/gateway/:deposit_id")
	{
		g.GET("", h.GatewayStatus)
		g.POST("/initiate", h.InitiateGateway)
		g.POST("/execute", h.ExecuteGateway)
		g.POST("/cancel", h.CancelGateway)
	}
}
