package handler

import (
	"time"

	"blogshop/internal/config"
	"blogshop/internal/payment"
	"blogshop/internal/repository"
	"blogshop/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	var gateway payment.Gateway
	if cfg.Payment.Simulated {
		gateway = payment.NewSimulatedGateway()
	} else {
		gateway = payment.NewHTTPGateway()
	}

	channelSvc := service.NewChannelService(db, cfg)
	orderSvc := service.NewOrderService(db, rdb, cfg, gateway, channelSvc)
	productSvc := service.NewProductService(db)
	authSvc := service.NewAuthService(&cfg.Auth)
	settlementSvc := service.NewSettlementService(db, cfg)

	notifyLogRepo := repository.NewNotifyLogRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	h := NewHandler(orderSvc, productSvc, channelSvc, authSvc, notifyLogRepo, membershipRepo)
	notifyHandler := NewNotifyHandler(
		settlementSvc,
		channelSvc,
		notifyLogRepo,
		time.Duration(cfg.Business.SettleTimeoutSeconds)*time.Second,
	)

	// 支付回调：渠道服务端调用，不走鉴权；
	// epay / xunhupay 两种请求方式都要支持
	notify := r.Group("/notify")
	{
		notify.POST("/wechat", notifyHandler.WechatNotify)
		notify.GET("/epay", notifyHandler.EpayNotify)
		notify.POST("/epay", notifyHandler.EpayNotify)
		notify.GET("/xunhupay", notifyHandler.XunhupayNotify)
		notify.POST("/xunhupay", notifyHandler.XunhupayNotify)
	}

	api := r.Group("/api/v1")
	{
		shop := api.Group("/shop")
		{
			shop.GET("/products", h.ListProducts)
			shop.POST("/order", h.CreateOrder)
			shop.GET("/order", h.GetOrder)
			shop.GET("/orders", h.ListUserOrders)
			shop.POST("/order/cancel", h.CancelOrder)
		}

		admin := api.Group("/admin")
		{
			admin.POST("/login", h.Login)

			authed := admin.Group("", AuthMiddleware(authSvc))
			{
				authed.POST("/product", h.CreateProduct)
				authed.GET("/products", h.ListAllProducts)
				authed.POST("/product/keys", h.ImportKeys)
				authed.GET("/orders", h.ListOrders)
				authed.POST("/order/complete", h.CompleteOrder)
				authed.POST("/channel", h.UpsertChannel)
				authed.GET("/channels", h.ListChannels)
				authed.GET("/notify-logs", h.ListNotifyLogs)
				authed.GET("/membership", h.GetMembership)
			}
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
