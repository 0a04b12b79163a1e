package repository

import (
	"context"
	"errors"

	"blogshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrProductNotFound = errors.New("商品不存在")
	ErrNoKeyAvailable  = errors.New("无可用卡密")
)

// claimRetries 卡密抢占在事务内的最大重试次数
// 选中的卡密被并发事务抢走时换下一张再试
const claimRetries = 3

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *ProductRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.Product, error) {
	if tx == nil {
		tx = r.db
	}
	var product model.Product
	err := tx.WithContext(ctx).First(&product, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (r *ProductRepository) List(ctx context.Context, enabledOnly bool) ([]*model.Product, error) {
	var products []*model.Product
	query := r.db.WithContext(ctx)
	if enabledOnly {
		query = query.Where("enabled = ?", true)
	}
	err := query.Order("id").Find(&products).Error
	return products, err
}

// ClaimKey 从卡密池原子抢占一张可用卡密并绑定订单和用户
//
// 关键点：必须用条件更新（WHERE id=? AND status=AVAILABLE）加 RowsAffected
// 判定，而不是先读后写——两个并发结算各自读到同一张卡密时，
// 条件更新保证只有一个能改成功，输家换下一张重试
func (r *ProductRepository) ClaimKey(ctx context.Context, tx *gorm.DB, productID int64, orderNo string, userID int64) (*model.ProductKey, error) {
	if tx == nil {
		tx = r.db
	}

	for i := 0; i < claimRetries; i++ {
		var key model.ProductKey
		err := tx.WithContext(ctx).
			Where("product_id = ? AND status = ?", productID, model.KeyStatusAvailable).
			Order("id").
			First(&key).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNoKeyAvailable
			}
			return nil, err
		}

		result := tx.WithContext(ctx).
			Model(&model.ProductKey{}).
			Where("id = ? AND status = ?", key.ID, model.KeyStatusAvailable).
			Updates(map[string]interface{}{
				"status":   model.KeyStatusSold,
				"order_no": orderNo,
				"user_id":  userID,
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 1 {
			key.Status = model.KeyStatusSold
			key.OrderNo = orderNo
			key.UserID = userID
			return &key, nil
		}
		// 被并发事务抢走，重试
	}

	return nil, ErrNoKeyAvailable
}

// DecrementStock 带护栏的库存扣减，库存为 0 或不限量时不动
func (r *ProductRepository) DecrementStock(ctx context.Context, tx *gorm.DB, productID int64) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Product{}).
		Where("id = ? AND stock > 0", productID).
		Update("stock", gorm.Expr("stock - 1")).Error
}

// ImportKeys 批量导入卡密，重复的 key 静默跳过
func (r *ProductRepository) ImportKeys(ctx context.Context, keys []*model.ProductKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoNothing: true,
		}).
		Create(&keys)
	return result.RowsAffected, result.Error
}

func (r *ProductRepository) CountAvailableKeys(ctx context.Context, productID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ProductKey{}).
		Where("product_id = ? AND status = ?", productID, model.KeyStatusAvailable).
		Count(&count).Error
	return count, err
}
