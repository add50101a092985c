package model

import (
	"time"
)

// ============================================================================
// 交易明细类型常量
// ============================================================================

const (
	HistoryTypeAll        = "all"        // 全部
	HistoryTypeDeposit    = "deposit"    // 入金
	HistoryTypeWithdrawal = "withdrawal" // 出金
)

// IsValidHistoryType 校验明细查询类型
func IsValidHistoryType(t string) bool {
	switch t {
	case HistoryTypeAll, HistoryTypeDeposit, HistoryTypeWithdrawal:
		return true
	}
	return false
}

// ============================================================================
// 交易明细实体
// ============================================================================

// History 交易明细表
// 记录每一笔资金变动，是对账的核心依据
//
// 【重要】明细表设计原则：
// 1. 只追加，不修改，不删除 —— 保证审计可追溯
// 2. 出金/入金两侧至少填一侧；转账两侧都填且账户不同，整笔转账只产生一行
// 3. 记录变动后的余额 —— 按创建顺序回放明细即可精确重建账户历史
type History struct {
	ID                int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Amount            int64     `gorm:"not null" json:"amount"`      // 变动金额（正数）
	WithdrawAccountID *int64    `gorm:"index" json:"withdraw_account_id"` // 出金账户ID，纯入金时为空
	WithdrawBalance   *int64    `json:"withdraw_balance"`                 // 出金账户变动后余额
	DepositAccountID  *int64    `gorm:"index" json:"deposit_account_id"`  // 入金账户ID，纯出金时为空
	DepositBalance    *int64    `json:"deposit_balance"`                  // 入金账户变动后余额
	CreatedAt         time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (History) TableName() string {
	return "history"
}

// HistoryAccount 交易明细联查读模型：明细行 + 对手方账户号
// 对手方是明细里相对于查询账户的另一侧账户，纯出金/入金时为空
type HistoryAccount struct {
	ID                int64     `json:"id"`
	Amount            int64     `json:"amount"`
	WithdrawAccountID *int64    `json:"withdraw_account_id"`
	WithdrawBalance   *int64    `json:"withdraw_balance"`
	DepositAccountID  *int64    `json:"deposit_account_id"`
	DepositBalance    *int64    `json:"deposit_balance"`
	CreatedAt         time.Time `json:"created_at"`
	CounterpartNumber *string   `gorm:"column:counterpart_number" json:"counterpart_number"`
}
