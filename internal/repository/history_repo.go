package repository

import (
	"context"
	"errors"

	"bankledger/internal/model"

	"gorm.io/gorm"
)

var ErrInvalidHistoryType = errors.New("不支持的明细类型")

type HistoryRepository struct {
	db *gorm.DB
}

func NewHistoryRepository(db *gorm.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert 追加一条交易明细，返回影响行数
// 明细表只追加，这里是唯一的写入口
func (r *HistoryRepository) Insert(ctx context.Context, tx *gorm.DB, history *model.History) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).Create(history)
	return result.RowsAffected, result.Error
}

// FindByAccountAndType 分页查询账户的交易明细，按创建时间倒序
// 联查两侧账户，解析出对手方账户号：
// 查询账户在出金侧时对手方取入金侧账户号，反之亦然
func (r *HistoryRepository) FindByAccountAndType(ctx context.Context, historyType string, accountID int64, limit, offset int) ([]*model.HistoryAccount, error) {
	query := r.db.WithContext(ctx).
		Table("history AS h").
		Select(`h.id, h.amount, h.withdraw_account_id, h.withdraw_balance,
			h.deposit_account_id, h.deposit_balance, h.created_at,
			CASE WHEN h.withdraw_account_id = ? THEN da.number ELSE wa.number END AS counterpart_number`, accountID).
		Joins("LEFT JOIN account AS wa ON wa.id = h.withdraw_account_id").
		Joins("LEFT JOIN account AS da ON da.id = h.deposit_account_id")

	switch historyType {
	case model.HistoryTypeWithdrawal:
		query = query.Where("h.withdraw_account_id = ?", accountID)
	case model.HistoryTypeDeposit:
		query = query.Where("h.deposit_account_id = ?", accountID)
	case model.HistoryTypeAll:
		query = query.Where("h.withdraw_account_id = ? OR h.deposit_account_id = ?", accountID, accountID)
	default:
		return nil, ErrInvalidHistoryType
	}

	var rows []*model.HistoryAccount
	err := query.
		Order("h.created_at DESC, h.id DESC").
		Limit(limit).
		Offset(offset).
		Scan(&rows).Error
	return rows, err
}

// CountByAccountAndType 统计账户的明细总数，供分页使用
func (r *HistoryRepository) CountByAccountAndType(ctx context.Context, historyType string, accountID int64) (int64, error) {
	query := r.db.WithContext(ctx).Model(&model.History{})

	switch historyType {
	case model.HistoryTypeWithdrawal:
		query = query.Where("withdraw_account_id = ?", accountID)
	case model.HistoryTypeDeposit:
		query = query.Where("deposit_account_id = ?", accountID)
	case model.HistoryTypeAll:
		query = query.Where("withdraw_account_id = ? OR deposit_account_id = ?", accountID, accountID)
	default:
		return 0, ErrInvalidHistoryType
	}

	var total int64
	err := query.Count(&total).Error
	return total, err
}
