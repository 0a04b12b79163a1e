package service

import (
	"context"
	"testing"
	"time"

	"blogshop/internal/config"
	"blogshop/internal/model"
	"blogshop/internal/payment"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type fakeOrderRows struct {
	orders []*model.Order
}

func (f *fakeOrderRows) Create(_ context.Context, _ *gorm.DB, order *model.Order) error {
	cp := *order
	f.orders = append(f.orders, &cp)
	return nil
}

func (f *fakeOrderRows) GetByOrderNo(_ context.Context, orderNo string) (*model.Order, error) {
	for _, o := range f.orders {
		if o.OrderNo == orderNo {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderRows) GetPendingByUserProduct(_ context.Context, userID, productID int64) (*model.Order, error) {
	for i := len(f.orders) - 1; i >= 0; i-- {
		o := f.orders[i]
		if o.UserID == userID && o.ProductID == productID &&
			o.Status == model.OrderStatusPending && o.ExpiredAt.After(time.Now()) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderRows) UpdateStatus(_ context.Context, _ *gorm.DB, _ string, _, _ string) error {
	return nil
}

func (f *fakeOrderRows) GetExpiredOrders(_ context.Context, _ int) ([]*model.Order, error) {
	return nil, nil
}

func (f *fakeOrderRows) ListByUserID(_ context.Context, _ int64, _, _ int) ([]*model.Order, int64, error) {
	return nil, 0, nil
}

func (f *fakeOrderRows) List(_ context.Context, _ string, _, _ int) ([]*model.Order, int64, error) {
	return nil, 0, nil
}

type stubProductReader struct {
	product *model.Product
}

func (s *stubProductReader) GetByID(_ context.Context, _ *gorm.DB, _ int64) (*model.Product, error) {
	cp := *s.product
	return &cp, nil
}

type stubChannelResolver struct{}

func (stubChannelResolver) Resolve(_ context.Context, method string) (*ResolvedChannel, error) {
	return &ResolvedChannel{
		Method:     method,
		MerchantID: "10001",
		Secret:     "testsecret",
		GatewayURL: "https://pay.example.com",
	}, nil
}

// fakeLocker 记录加锁次数，并可在持锁期间注入动作模拟并发竞争
type fakeLocker struct {
	acquired int
	onLock   func()
}

func (l *fakeLocker) LockUser(_ context.Context, _ int64) (func(), error) {
	l.acquired++
	if l.onLock != nil {
		l.onLock()
	}
	return func() {}, nil
}

type recordingGateway struct {
	requests []*payment.CreateRequest
}

func (g *recordingGateway) CreatePayment(_ context.Context, req *payment.CreateRequest) (*payment.PayResult, error) {
	g.requests = append(g.requests, req)
	return &payment.PayResult{PayURL: "https://pay.example.com/cashier/" + req.OrderNo}, nil
}

func newOrderFixture(product *model.Product) (*OrderService, *fakeOrderRows, *fakeLocker, *recordingGateway) {
	rows := &fakeOrderRows{}
	locker := &fakeLocker{}
	gw := &recordingGateway{}
	svc := &OrderService{
		cfg: &config.Config{
			Business: config.BusinessConfig{OrderTimeoutMinutes: 30},
			Payment:  config.PaymentConfig{NotifyBaseURL: "https://blog.example.com"},
		},
		gateway:     gw,
		channels:    stubChannelResolver{},
		locker:      locker,
		orderRepo:   rows,
		productRepo: &stubProductReader{product: product},
	}
	return svc, rows, locker, gw
}

func TestCreateOrder(t *testing.T) {
	product := &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: true}
	svc, rows, locker, gw := newOrderFixture(product)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay", ClientIP: "1.2.3.4",
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, resp.OrderNo)
	assert.Equal(t, int64(990), resp.Amount)
	assert.Contains(t, resp.PayURL, resp.OrderNo)

	assert.Equal(t, 1, locker.acquired)
	assert.Len(t, rows.orders, 1)
	assert.Equal(t, model.OrderStatusPending, rows.orders[0].Status)
	assert.Len(t, gw.requests, 1)
	assert.Equal(t, "https://blog.example.com/notify/epay", gw.requests[0].NotifyURL)
}

// 重复提交：已有未过期的待支付订单时不再新建，复用原订单重新发起支付
func TestCreateOrderReusesPending(t *testing.T) {
	product := &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: true}
	svc, rows, locker, gw := newOrderFixture(product)

	first, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay",
	})
	assert.NoError(t, err)

	second, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay",
	})
	assert.NoError(t, err)

	assert.Equal(t, first.OrderNo, second.OrderNo)
	assert.Len(t, rows.orders, 1)
	// 第二次在锁外就命中了已有订单，不再进锁
	assert.Equal(t, 1, locker.acquired)
	assert.Len(t, gw.requests, 2)
}

// 两个重复提交都越过锁外检查：后拿到锁的必须在锁内发现先进者的订单并复用
func TestCreateOrderRecheckAfterLock(t *testing.T) {
	product := &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: true}
	svc, rows, locker, _ := newOrderFixture(product)

	// 模拟竞争对手：在本请求持锁之前刚创建了订单
	locker.onLock = func() {
		rows.orders = append(rows.orders, &model.Order{
			OrderNo:   "SL20260830120000001",
			UserID:    100,
			ProductID: 1,
			Amount:    990,
			Status:    model.OrderStatusPending,
			PayMethod: "epay",
			ExpiredAt: time.Now().Add(30 * time.Minute),
		})
	}

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay",
	})
	assert.NoError(t, err)
	assert.Equal(t, "SL20260830120000001", resp.OrderNo)
	assert.Len(t, rows.orders, 1)
	assert.Equal(t, 1, locker.acquired)
}

// 复用订单时按订单原渠道重新下单，而不是本次请求的渠道
func TestCreateOrderReuseKeepsOriginalMethod(t *testing.T) {
	product := &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: true}
	svc, _, _, gw := newOrderFixture(product)

	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay",
	})
	assert.NoError(t, err)

	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "wechat",
	})
	assert.NoError(t, err)

	assert.Len(t, gw.requests, 2)
	assert.Equal(t, "epay", gw.requests[1].Method)
	assert.Equal(t, "https://blog.example.com/notify/epay", gw.requests[1].NotifyURL)
}

// 已过期/已取消的旧订单不挡新下单
func TestCreateOrderIgnoresStaleOrders(t *testing.T) {
	product := &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: true}
	svc, rows, _, _ := newOrderFixture(product)

	rows.orders = append(rows.orders,
		&model.Order{OrderNo: "SLEXPIRED", UserID: 100, ProductID: 1, Status: model.OrderStatusPending,
			PayMethod: "epay", ExpiredAt: time.Now().Add(-time.Minute)},
		&model.Order{OrderNo: "SLCANCELLED", UserID: 100, ProductID: 1, Status: model.OrderStatusCancelled,
			PayMethod: "epay", ExpiredAt: time.Now().Add(30 * time.Minute)},
	)

	resp, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{
		UserID: 100, ProductID: 1, PayMethod: "epay",
	})
	assert.NoError(t, err)
	assert.NotEqual(t, "SLEXPIRED", resp.OrderNo)
	assert.NotEqual(t, "SLCANCELLED", resp.OrderNo)
	assert.Len(t, rows.orders, 3)
}

func TestCreateOrderRejectsDisabledAndSoldOut(t *testing.T) {
	svc, _, _, _ := newOrderFixture(&model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 5, Enabled: false})
	_, err := svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100, ProductID: 1, PayMethod: "epay"})
	assert.ErrorIs(t, err, ErrProductDisabled)

	svc, _, _, _ = newOrderFixture(&model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 0, Enabled: true})
	_, err = svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100, ProductID: 1, PayMethod: "epay"})
	assert.ErrorIs(t, err, ErrOutOfStock)
}
