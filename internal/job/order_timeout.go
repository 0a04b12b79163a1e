package job

import (
	"context"
	"errors"
	"log"
	"time"

	"blogshop/internal/config"
	"blogshop/internal/model"
	"blogshop/internal/repository"

	"gorm.io/gorm"
)

type OrderTimeoutJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	cfg       *config.Config
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewOrderTimeoutJob(db *gorm.DB, cfg *config.Config) *OrderTimeoutJob {
	return &OrderTimeoutJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		interval:  10 * time.Second,
		batchSize: 100,
	}
}

func (j *OrderTimeoutJob) Start(ctx context.Context) {
	log.Println("[OrderTimeoutJob] 订单超时任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OrderTimeoutJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[OrderTimeoutJob] 任务停止")
			return
		case <-ticker.C:
			j.closeExpiredOrders(ctx)
		}
	}
}

func (j *OrderTimeoutJob) Stop() {
	close(j.stopCh)
}

func (j *OrderTimeoutJob) closeExpiredOrders(ctx context.Context) {
	orders, err := j.orderRepo.GetExpiredOrders(ctx, j.batchSize)
	if err != nil {
		log.Printf("[OrderTimeoutJob] 查询超时订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	closedCount := 0
	for _, order := range orders {
		err := j.orderRepo.UpdateStatus(ctx, nil, order.OrderNo, model.OrderStatusPending, model.OrderStatusCancelled)
		if err != nil {
			// 结算在超时临界点抢先落地属正常竞争
			if errors.Is(err, repository.ErrOrderStatusInvalid) {
				continue
			}
			log.Printf("[OrderTimeoutJob] 关闭订单失败: orderNo=%s, err=%v", order.OrderNo, err)
			continue
		}
		closedCount++
		log.Printf("[OrderTimeoutJob] 订单已超时关闭: orderNo=%s, userID=%d, amount=%d",
			order.OrderNo, order.UserID, order.Amount)
	}

	log.Printf("[OrderTimeoutJob] 本次关闭 %d 个超时订单", closedCount)
}

// KeyBacklogJob 缺卡巡检任务
//
// 已支付却没拿到卡密的订单（结算时卡池已空）需要人工补发，
// 周期性扫描并上报，避免缺卡订单被遗忘
type KeyBacklogJob struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewKeyBacklogJob(db *gorm.DB) *KeyBacklogJob {
	return &KeyBacklogJob{
		db:        db,
		orderRepo: repository.NewOrderRepository(db),
		stopCh:    make(chan struct{}),
		interval:  60 * time.Second,
		batchSize: 50,
	}
}

func (j *KeyBacklogJob) Start(ctx context.Context) {
	log.Println("[KeyBacklogJob] 缺卡巡检任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[KeyBacklogJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[KeyBacklogJob] 任务停止")
			return
		case <-ticker.C:
			j.reportKeylessOrders(ctx)
		}
	}
}

func (j *KeyBacklogJob) Stop() {
	close(j.stopCh)
}

func (j *KeyBacklogJob) reportKeylessOrders(ctx context.Context) {
	orders, err := j.orderRepo.GetKeylessPaidOrders(ctx, j.batchSize)
	if err != nil {
		log.Printf("[KeyBacklogJob] 查询缺卡订单失败: %v", err)
		return
	}

	if len(orders) == 0 {
		return
	}

	log.Printf("[KeyBacklogJob] 发现 %d 个已支付但未发卡的订单，需补充卡密", len(orders))
	for _, order := range orders {
		log.Printf("[KeyBacklogJob] 待补发: orderNo=%s, userID=%d, productID=%d, paidAt=%v",
			order.OrderNo, order.UserID, order.ProductID, order.PaidAt)
	}
}
