package handler

import (
	"errors"
	"strconv"

	"blogshop/internal/model"
	"blogshop/internal/repository"
	"blogshop/internal/service"
	"blogshop/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	orderService   *service.OrderService
	productService *service.ProductService
	channelService *service.ChannelService
	authService    *service.AuthService
	notifyLogRepo  *repository.NotifyLogRepository
	membershipRepo *repository.MembershipRepository
}

func NewHandler(orderSvc *service.OrderService, productSvc *service.ProductService, channelSvc *service.ChannelService, authSvc *service.AuthService, notifyLogRepo *repository.NotifyLogRepository, membershipRepo *repository.MembershipRepository) *Handler {
	return &Handler{
		orderService:   orderSvc,
		productService: productSvc,
		channelService: channelSvc,
		authService:    authSvc,
		notifyLogRepo:  notifyLogRepo,
		membershipRepo: membershipRepo,
	}
}

// ============================================================
// 商城接口
// ============================================================

// ListProducts 上架商品列表
// GET /api/v1/shop/products
func (h *Handler) ListProducts(c *gin.Context) {
	products, err := h.productService.ListProducts(c.Request.Context(), true)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, products)
}

// CreateOrder 下单并获取支付参数
// POST /api/v1/shop/order
func (h *Handler) CreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := h.orderService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProductDisabled):
			response.BusinessError(c, response.CodeProductDisabled, err.Error())
		case errors.Is(err, service.ErrOutOfStock):
			response.BusinessError(c, response.CodeOutOfStock, err.Error())
		case errors.Is(err, service.ErrChannelDisabled):
			response.BusinessError(c, response.CodeChannelDisabled, err.Error())
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, resp)
}

// GetOrder 查询订单
// GET /api/v1/shop/order?order_no=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数错误")
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), orderNo)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			response.BusinessError(c, response.CodeOrderNotFound, "订单不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, order)
}

// ListUserOrders 用户订单列表
// GET /api/v1/shop/orders?user_id=xxx&page=1&page_size=10
func (h *Handler) ListUserOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}
	page, pageSize := parsePagination(c)

	orders, total, err := h.orderService.ListUserOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"list":  orders,
		"total": total,
		"page":  page,
	})
}

// CancelOrder 取消未支付订单
// POST /api/v1/shop/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req struct {
		OrderNo string `json:"order_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.CancelOrder(c.Request.Context(), req.OrderNo); err != nil {
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			response.BusinessError(c, response.CodeOrderStatusInvalid, "订单状态不允许取消")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "订单已取消"})
}

// ============================================================
// 管理端接口
// ============================================================

// Login 管理员登录
// POST /api/v1/admin/login
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	token, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}
	response.Success(c, gin.H{"token": token})
}

// CreateProduct 创建商品
// POST /api/v1/admin/product
func (h *Handler) CreateProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	product, err := h.productService.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, product)
}

// ListAllProducts 全部商品（含下架）
// GET /api/v1/admin/products
func (h *Handler) ListAllProducts(c *gin.Context) {
	products, err := h.productService.ListProducts(c.Request.Context(), false)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, products)
}

// ImportKeys 批量导入卡密
// POST /api/v1/admin/product/keys
func (h *Handler) ImportKeys(c *gin.Context) {
	var req struct {
		ProductID int64    `json:"product_id" binding:"required"`
		Keys      []string `json:"keys" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	imported, err := h.productService.ImportKeys(c.Request.Context(), req.ProductID, req.Keys)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			response.BusinessError(c, response.CodeProductNotFound, "商品不存在")
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	available, err := h.productService.CountAvailableKeys(c.Request.Context(), req.ProductID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"imported":  imported,
		"available": available,
	})
}

// ListOrders 管理端订单列表
// GET /api/v1/admin/orders?status=PAID&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	status := c.Query("status")
	page, pageSize := parsePagination(c)

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), status, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"list":  orders,
		"total": total,
		"page":  page,
	})
}

// CompleteOrder 已支付订单确认完成
// POST /api/v1/admin/order/complete
func (h *Handler) CompleteOrder(c *gin.Context) {
	var req struct {
		OrderNo string `json:"order_no" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.CompleteOrder(c.Request.Context(), req.OrderNo); err != nil {
		if errors.Is(err, repository.ErrOrderStatusInvalid) {
			response.BusinessError(c, response.CodeOrderStatusInvalid, "订单状态不允许完成")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "订单已完成"})
}

// UpsertChannel 配置支付渠道
// POST /api/v1/admin/channel
func (h *Handler) UpsertChannel(c *gin.Context) {
	var req struct {
		Method     string `json:"method" binding:"required,oneof=wechat epay xunhupay"`
		MerchantID string `json:"merchant_id"`
		Secret     string `json:"secret" binding:"required"`
		Enabled    bool   `json:"enabled"`
		ConfigJSON string `json:"config_json"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	err := h.channelService.Upsert(c.Request.Context(), &model.PaymentChannel{
		Method:     req.Method,
		MerchantID: req.MerchantID,
		Secret:     req.Secret,
		Enabled:    req.Enabled,
		ConfigJSON: req.ConfigJSON,
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"message": "渠道配置已保存"})
}

// GetMembership 查询用户会员状态
// GET /api/v1/admin/membership?user_id=xxx
func (h *Handler) GetMembership(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	m, err := h.membershipRepo.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if m == nil {
		response.BusinessError(c, response.CodeNotFound, "该用户没有会员记录")
		return
	}
	response.Success(c, m)
}

// ListNotifyLogs 某笔订单的回调审计记录，对账排查用
// GET /api/v1/admin/notify-logs?order_no=xxx
func (h *Handler) ListNotifyLogs(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数错误")
		return
	}

	logs, err := h.notifyLogRepo.ListByOrderNo(c.Request.Context(), orderNo)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, logs)
}

// ListChannels 渠道配置列表（密钥不下发）
// GET /api/v1/admin/channels
func (h *Handler) ListChannels(c *gin.Context) {
	channels, err := h.channelService.List(c.Request.Context())
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, channels)
}

func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
