package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"blogshop/internal/model"
	"blogshop/internal/repository"

	"gorm.io/gorm"
)

// ProductService 商品与卡密管理
type ProductService struct {
	db          *gorm.DB
	productRepo *repository.ProductRepository
}

func NewProductService(db *gorm.DB) *ProductService {
	return &ProductService{
		db:          db,
		productRepo: repository.NewProductRepository(db),
	}
}

type CreateProductRequest struct {
	Name           string `json:"name" binding:"required"`
	Price          int64  `json:"price" binding:"required,gt=0"` // 分
	Type           string `json:"type" binding:"required,oneof=SERIAL_KEY MEMBERSHIP VIRTUAL"`
	Stock          int    `json:"stock"`
	MembershipDays int    `json:"membership_days"`
	Remark         string `json:"remark"`
}

// CreateProduct 创建商品
func (s *ProductService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*model.Product, error) {
	if req.Type == model.ProductTypeMembership && req.MembershipDays <= 0 {
		return nil, errors.New("会员商品必须设置时长")
	}

	stock := req.Stock
	if req.Type != model.ProductTypeSerialKey {
		stock = model.StockUnlimited
	}

	product := &model.Product{
		Name:           req.Name,
		Price:          req.Price,
		Type:           req.Type,
		Stock:          stock,
		MembershipDays: req.MembershipDays,
		Enabled:        true,
		Remark:         req.Remark,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("创建商品失败: %w", err)
	}
	return product, nil
}

// ListProducts 商品列表，enabledOnly 为 true 只返回上架商品
func (s *ProductService) ListProducts(ctx context.Context, enabledOnly bool) ([]*model.Product, error) {
	return s.productRepo.List(ctx, enabledOnly)
}

// GetProduct 查询单个商品
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	return s.productRepo.GetByID(ctx, nil, id)
}

// ImportKeys 批量导入卡密，重复卡密自动跳过，返回实际入库数量
func (s *ProductService) ImportKeys(ctx context.Context, productID int64, rawKeys []string) (int64, error) {
	product, err := s.productRepo.GetByID(ctx, nil, productID)
	if err != nil {
		return 0, err
	}
	if product.Type != model.ProductTypeSerialKey {
		return 0, errors.New("只有卡密商品支持导入卡密")
	}

	keys := make([]*model.ProductKey, 0, len(rawKeys))
	for _, raw := range rawKeys {
		k := strings.TrimSpace(raw)
		if k == "" {
			continue
		}
		keys = append(keys, &model.ProductKey{
			ProductID: productID,
			Key:       k,
			Status:    model.KeyStatusAvailable,
		})
	}
	if len(keys) == 0 {
		return 0, errors.New("没有可导入的卡密")
	}

	imported, err := s.productRepo.ImportKeys(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("导入卡密失败: %w", err)
	}

	// 库存与卡池保持一致
	if product.Stock != model.StockUnlimited && imported > 0 {
		err = s.db.WithContext(ctx).
			Model(&model.Product{}).
			Where("id = ?", productID).
			Update("stock", gorm.Expr("stock + ?", imported)).Error
		if err != nil {
			return imported, fmt.Errorf("更新库存失败: %w", err)
		}
	}
	return imported, nil
}

// CountAvailableKeys 查询可用卡密数量
func (s *ProductService) CountAvailableKeys(ctx context.Context, productID int64) (int64, error) {
	return s.productRepo.CountAvailableKeys(ctx, productID)
}
