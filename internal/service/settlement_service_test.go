package service

import (
	"context"
	"testing"
	"time"

	"blogshop/internal/config"
	"blogshop/internal/model"
	"blogshop/internal/payment"
	"blogshop/internal/repository"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

// ============================================================
// 存储替身：行为与真实仓储一致（含条件更新语义），不依赖 MySQL
// ============================================================

type fakeOrderStore struct {
	orders map[string]*model.Order
}

func (f *fakeOrderStore) GetByOrderNoForUpdate(_ context.Context, _ *gorm.DB, orderNo string) (*model.Order, error) {
	o, ok := f.orders[orderNo]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) MarkPaid(_ context.Context, _ *gorm.DB, orderNo string, upd *repository.PaidUpdate) error {
	o, ok := f.orders[orderNo]
	if !ok || o.Status != model.OrderStatusPending {
		return repository.ErrOrderStatusInvalid
	}
	o.Status = model.OrderStatusPaid
	o.PayMethod = upd.PayMethod
	o.ProductKey = upd.ProductKey
	o.Remark = upd.Remark
	paidAt := upd.PaidAt
	o.PaidAt = &paidAt
	return nil
}

type fakeProductStore struct {
	products map[int64]*model.Product
	keys     []*model.ProductKey
}

func (f *fakeProductStore) GetByID(_ context.Context, _ *gorm.DB, id int64) (*model.Product, error) {
	p, ok := f.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProductStore) ClaimKey(_ context.Context, _ *gorm.DB, productID int64, orderNo string, userID int64) (*model.ProductKey, error) {
	for _, k := range f.keys {
		if k.ProductID == productID && k.Status == model.KeyStatusAvailable {
			k.Status = model.KeyStatusSold
			k.OrderNo = orderNo
			k.UserID = userID
			cp := *k
			return &cp, nil
		}
	}
	return nil, repository.ErrNoKeyAvailable
}

func (f *fakeProductStore) DecrementStock(_ context.Context, _ *gorm.DB, productID int64) error {
	if p, ok := f.products[productID]; ok && p.Stock > 0 {
		p.Stock--
	}
	return nil
}

func (f *fakeProductStore) soldKeys() []*model.ProductKey {
	var sold []*model.ProductKey
	for _, k := range f.keys {
		if k.Status == model.KeyStatusSold {
			sold = append(sold, k)
		}
	}
	return sold
}

type fakeMembershipStore struct {
	byUser map[int64]*model.Membership
}

func (f *fakeMembershipStore) GetByUserIDForUpdate(_ context.Context, _ *gorm.DB, userID int64) (*model.Membership, error) {
	m, ok := f.byUser[userID]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMembershipStore) Create(_ context.Context, _ *gorm.DB, m *model.Membership) error {
	cp := *m
	f.byUser[m.UserID] = &cp
	return nil
}

func (f *fakeMembershipStore) Extend(_ context.Context, _ *gorm.DB, userID int64, memberType string, endAt time.Time) error {
	m := f.byUser[userID]
	m.Type = memberType
	m.EndAt = endAt
	m.Active = true
	return nil
}

type fakeOutboxStore struct {
	msgs []*model.OutboxMessage
}

func (f *fakeOutboxStore) Create(_ context.Context, _ *gorm.DB, msg *model.OutboxMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type settlementFixture struct {
	svc     *SettlementService
	orders  *fakeOrderStore
	prods   *fakeProductStore
	members *fakeMembershipStore
	outbox  *fakeOutboxStore
}

func newSettlementFixture() *settlementFixture {
	fx := &settlementFixture{
		orders:  &fakeOrderStore{orders: map[string]*model.Order{}},
		prods:   &fakeProductStore{products: map[int64]*model.Product{}},
		members: &fakeMembershipStore{byUser: map[int64]*model.Membership{}},
		outbox:  &fakeOutboxStore{},
	}
	fx.svc = &SettlementService{
		cfg: &config.Config{
			Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{SettleResult: "blogshop.settle.result"}},
		},
		transact: func(_ context.Context, fn func(tx *gorm.DB) error) error {
			return fn(nil)
		},
		orderRepo:      fx.orders,
		productRepo:    fx.prods,
		membershipRepo: fx.members,
		outboxRepo:     fx.outbox,
	}
	return fx
}

func (fx *settlementFixture) addOrder(orderNo string, userID, productID, amount int64, status string) {
	fx.orders.orders[orderNo] = &model.Order{
		OrderNo:   orderNo,
		UserID:    userID,
		ProductID: productID,
		Amount:    amount,
		Status:    status,
		ExpiredAt: time.Now().Add(30 * time.Minute),
	}
}

func notification(orderNo string, amount int64) *payment.Notification {
	return &payment.Notification{
		Method:  payment.MethodEpay,
		OrderNo: orderNo,
		TradeNo: "TRADE001",
		Amount:  amount,
	}
}

// ============================================================
// 结算场景
// ============================================================

func TestSettleSerialKeyOrder(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Name: "激活码", Price: 990, Type: model.ProductTypeSerialKey, Stock: 2}
	fx.prods.keys = []*model.ProductKey{
		{ID: 1, ProductID: 1, Key: "KEY-AAA", Status: model.KeyStatusAvailable},
		{ID: 2, ProductID: 1, Key: "KEY-BBB", Status: model.KeyStatusAvailable},
	}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)
	assert.Equal(t, "KEY-AAA", result.KeyAssigned)
	assert.False(t, result.KeyMissing)

	order := fx.orders.orders["SL1"]
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Equal(t, "KEY-AAA", order.ProductKey)
	assert.Equal(t, payment.MethodEpay, order.PayMethod)
	assert.NotNil(t, order.PaidAt)
	assert.Contains(t, order.Remark, "TRADE001")

	assert.Len(t, fx.prods.soldKeys(), 1)
	assert.Equal(t, "SL1", fx.prods.soldKeys()[0].OrderNo)
	assert.Equal(t, 1, fx.prods.products[1].Stock)

	assert.Len(t, fx.outbox.msgs, 1)
	assert.Equal(t, "blogshop.settle.result", fx.outbox.msgs[0].Topic)
	assert.Equal(t, "SL1", fx.outbox.msgs[0].MessageKey)
}

// 重放通知必须是幂等空操作：不发第二张卡、不重复扣库存、不重复发事件
func TestSettleReplayIsNoop(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 2}
	fx.prods.keys = []*model.ProductKey{
		{ID: 1, ProductID: 1, Key: "KEY-AAA", Status: model.KeyStatusAvailable},
		{ID: 2, ProductID: 1, Key: "KEY-BBB", Status: model.KeyStatusAvailable},
	}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)

	first, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, first.Code)

	// 同一订单再来一次（渠道交易号不同也一样）
	replay := notification("SL1", 990)
	replay.TradeNo = "TRADE002"
	second, err := fx.svc.Settle(context.Background(), replay)
	assert.NoError(t, err)
	assert.Equal(t, SettleAlready, second.Code)
	assert.True(t, second.Accepted())

	assert.Len(t, fx.prods.soldKeys(), 1)
	assert.Equal(t, 1, fx.prods.products[1].Stock)
	assert.Len(t, fx.outbox.msgs, 1)
	assert.Equal(t, "KEY-AAA", fx.orders.orders["SL1"].ProductKey)
	assert.Contains(t, fx.orders.orders["SL1"].Remark, "TRADE001")
}

func TestSettleAmountMismatch(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 1}
	fx.prods.keys = []*model.ProductKey{{ID: 1, ProductID: 1, Key: "KEY-AAA", Status: model.KeyStatusAvailable}}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)

	for _, amount := range []int64{989, 991} {
		result, err := fx.svc.Settle(context.Background(), notification("SL1", amount))
		assert.NoError(t, err)
		assert.Equal(t, SettleAmountMismatch, result.Code, "amount=%d", amount)
		assert.False(t, result.Accepted())
	}

	// 订单纹丝不动
	assert.Equal(t, model.OrderStatusPending, fx.orders.orders["SL1"].Status)
	assert.Empty(t, fx.prods.soldKeys())
	assert.Empty(t, fx.outbox.msgs)
}

func TestSettleOrderNotFound(t *testing.T) {
	fx := newSettlementFixture()

	result, err := fx.svc.Settle(context.Background(), notification("SL404", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOrderNotFound, result.Code)
	assert.False(t, result.Accepted())
	assert.Empty(t, fx.outbox.msgs)
}

// 超时任务先关了单，迟到的支付要明确拒绝而不是当成内部错误
func TestSettleCancelledOrder(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 1}
	fx.prods.keys = []*model.ProductKey{{ID: 1, ProductID: 1, Key: "KEY-AAA", Status: model.KeyStatusAvailable}}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusCancelled)

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOrderClosed, result.Code)
	assert.False(t, result.Accepted())

	assert.Equal(t, model.OrderStatusCancelled, fx.orders.orders["SL1"].Status)
	assert.Empty(t, fx.prods.soldKeys())
	assert.Empty(t, fx.outbox.msgs)
}

// 卡池耗尽不阻断结算：钱已收到，订单置为已支付并上报缺卡
func TestSettleKeyPoolExhausted(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 0}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)
	assert.True(t, result.KeyMissing)
	assert.Empty(t, result.KeyAssigned)

	order := fx.orders.orders["SL1"]
	assert.Equal(t, model.OrderStatusPaid, order.Status)
	assert.Empty(t, order.ProductKey)
	assert.Len(t, fx.outbox.msgs, 1)
}

// 两笔订单争一张卡：恰好一张卡被发出，另一笔降级为缺卡
func TestSettleKeyClaimedAtMostOnce(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: 1}
	fx.prods.keys = []*model.ProductKey{{ID: 1, ProductID: 1, Key: "KEY-AAA", Status: model.KeyStatusAvailable}}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)
	fx.addOrder("SL2", 200, 1, 990, model.OrderStatusPending)

	r1, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	r2, err := fx.svc.Settle(context.Background(), notification("SL2", 990))
	assert.NoError(t, err)

	assert.Equal(t, SettleOK, r1.Code)
	assert.Equal(t, SettleOK, r2.Code)
	assert.Equal(t, "KEY-AAA", r1.KeyAssigned)
	assert.Empty(t, r2.KeyAssigned)
	assert.True(t, r2.KeyMissing)

	assert.Len(t, fx.prods.soldKeys(), 1)
	assert.Equal(t, "SL1", fx.prods.soldKeys()[0].OrderNo)
	assert.Equal(t, model.OrderStatusPaid, fx.orders.orders["SL2"].Status)
}

// 不限量卡密商品（stock=-1）不走发卡
func TestSettleUnlimitedSerialKeySkipsClaim(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[1] = &model.Product{ID: 1, Price: 990, Type: model.ProductTypeSerialKey, Stock: model.StockUnlimited}
	fx.addOrder("SL1", 100, 1, 990, model.OrderStatusPending)

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)
	assert.False(t, result.KeyMissing)
	assert.Equal(t, model.OrderStatusPaid, fx.orders.orders["SL1"].Status)
}

func TestSettleMembershipFirstPurchase(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[2] = &model.Product{ID: 2, Price: 1990, Type: model.ProductTypeMembership, Stock: model.StockUnlimited, MembershipDays: 30}
	fx.addOrder("SL1", 100, 2, 1990, model.OrderStatusPending)

	before := time.Now()
	result, err := fx.svc.Settle(context.Background(), notification("SL1", 1990))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)

	m := fx.members.byUser[100]
	assert.NotNil(t, m)
	assert.Equal(t, model.MembershipTypeMonthly, m.Type)
	assert.True(t, m.Active)
	assert.WithinDuration(t, before, m.StartAt, 5*time.Second)
	assert.WithinDuration(t, before.AddDate(0, 0, 30), m.EndAt, 5*time.Second)
}

// 续费从旧到期日顺延，而不是从现在重算，过期会员也一样并被重新激活
func TestSettleMembershipStacking(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[2] = &model.Product{ID: 2, Price: 19900, Type: model.ProductTypeMembership, Stock: model.StockUnlimited, MembershipDays: 365}
	fx.addOrder("SL1", 100, 2, 19900, model.OrderStatusPending)

	oldEnd := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	fx.members.byUser[100] = &model.Membership{
		UserID:  100,
		Type:    model.MembershipTypeMonthly,
		StartAt: oldEnd.AddDate(0, -1, 0),
		EndAt:   oldEnd,
		Active:  false,
	}

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 19900))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)

	m := fx.members.byUser[100]
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), m.EndAt)
	assert.Equal(t, model.MembershipTypeYearly, m.Type)
	assert.True(t, m.Active)
}

func TestSettleVirtualProduct(t *testing.T) {
	fx := newSettlementFixture()
	fx.prods.products[3] = &model.Product{ID: 3, Price: 500, Type: model.ProductTypeVirtual, Stock: model.StockUnlimited}
	fx.addOrder("SL1", 100, 3, 500, model.OrderStatusPending)

	result, err := fx.svc.Settle(context.Background(), notification("SL1", 500))
	assert.NoError(t, err)
	assert.Equal(t, SettleOK, result.Code)
	assert.Empty(t, fx.prods.soldKeys())
	assert.Empty(t, fx.members.byUser)
	assert.Equal(t, model.OrderStatusPaid, fx.orders.orders["SL1"].Status)
}

// ============================================================
// 纯逻辑
// ============================================================

func TestSettleResultAccepted(t *testing.T) {
	cases := []struct {
		code SettleCode
		want bool
	}{
		{SettleOK, true},
		{SettleAlready, true},
		{SettleOrderNotFound, false},
		{SettleOrderClosed, false},
		{SettleAmountMismatch, false},
	}
	for _, c := range cases {
		r := &SettleResult{Code: c.code}
		assert.Equal(t, c.want, r.Accepted(), "code=%d", c.code)
	}
}

// 续费从现有到期日顺延，而不是从当前时间重算
func TestExtendMembershipEnd(t *testing.T) {
	end := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	got := ExtendMembershipEnd(end, 365)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got = ExtendMembershipEnd(end, 30)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), got)
}

// 已过期的会员续费同样从旧到期日顺延
func TestExtendMembershipEndExpired(t *testing.T) {
	expired := time.Now().AddDate(0, 0, -10)
	got := ExtendMembershipEnd(expired, 30)
	assert.Equal(t, expired.AddDate(0, 0, 30), got)
	assert.True(t, got.After(time.Now()))
}
