package repository

import (
	"context"
	"errors"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("账户并发更新冲突")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Insert 插入账户，返回影响行数
func (r *AccountRepository) Insert(ctx context.Context, tx *gorm.DB, account *model.Account) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).Create(account)
	return result.RowsAffected, result.Error
}

// FindByNumber 按账户号查询，tx 不为空时在事务内读取
func (r *AccountRepository) FindByNumber(ctx context.Context, tx *gorm.DB, number string) (*model.Account, error) {
	if tx == nil {
		tx = r.db
	}
	var account model.Account
	err := tx.WithContext(ctx).Where("number = ?", number).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) FindByOwnerID(ctx context.Context, ownerID int64) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&accounts).Error
	return accounts, err
}

// DeductBalance 条件扣款
//
// 【关键点】把"余额校验 + 扣减"压成一条条件 UPDATE：
//
//	UPDATE account SET balance = balance - ?, version = version + 1
//	WHERE id = ? AND balance >= ? AND version = ?
//
// 两个并发出金不可能都命中条件，从根上消除"先读后写"的超扣竞态。
// 影响行数为 0 时回读账户，区分是余额不足还是版本号冲突。
func (r *AccountRepository) DeductBalance(ctx context.Context, tx *gorm.DB, id int64, amount int64, version int) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ? AND balance >= ? AND version = ?", id, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var account model.Account
		err := tx.WithContext(ctx).Where("id = ?", id).First(&account).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		if account.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

// IncreaseBalance 加款（入金不设上限，无需余额条件）
func (r *AccountRepository) IncreaseBalance(ctx context.Context, tx *gorm.DB, id int64, amount int64) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}
