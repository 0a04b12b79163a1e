package repository

import (
	"context"
	"errors"
	"time"

	"blogshop/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MembershipRepository struct {
	db *gorm.DB
}

func NewMembershipRepository(db *gorm.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) GetByUserID(ctx context.Context, userID int64) (*model.Membership, error) {
	var m model.Membership
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetByUserIDForUpdate 行锁读取用户会员记录，只能在事务内调用
// 同一用户两笔会员订单并发结算时，靠行锁保证顺延计算串行进行
func (r *MembershipRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Membership, error) {
	var m model.Membership
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (r *MembershipRepository) Create(ctx context.Context, tx *gorm.DB, m *model.Membership) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(m).Error
}

// Extend 顺延会员有效期并强制重新激活
func (r *MembershipRepository) Extend(ctx context.Context, tx *gorm.DB, userID int64, memberType string, endAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Membership{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"type":   memberType,
			"end_at": endAt,
			"active": true,
		}).Error
}
