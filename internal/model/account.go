package model

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"bankledger/pkg/errs"
)

// Account 银行账户表
// 记录账户余额，是整个账务系统的核心数据
//
// 余额只允许通过 LedgerService 的出金/入金/转账操作变动，
// 且每次变动都和一条 history 明细在同一事务内落库
type Account struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Number    string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"number"` // 账户号，对外查询用
	Password  string    `gorm:"type:varchar(128);not null" json:"-"`                 // 账户凭证的 bcrypt 哈希，不保存明文
	Balance   int64     `gorm:"not null;default:0" json:"balance"`                   // 余额（最小货币单位），任何已提交操作后 >= 0
	Version   int       `gorm:"not null;default:0" json:"version"`                   // 乐观锁版本号
	OwnerID   int64     `gorm:"index;not null" json:"owner_id"`                      // 所属用户ID，创建后不可变
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// HashPassword 生成账户凭证哈希
func HashPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Withdraw 出金：扣减余额
// 调用方必须先通过 CheckBalance 确认余额充足，这里不做重复校验
func (a *Account) Withdraw(amount int64) {
	a.Balance -= amount
}

// Deposit 入金：增加余额，不设上限
func (a *Account) Deposit(amount int64) {
	a.Balance += amount
}

// CheckPassword 校验账户凭证，无副作用
func (a *Account) CheckPassword(candidate string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(a.Password), []byte(candidate)); err != nil {
		return errs.New(errs.CodeInvalidCredential, "账户密码不正确")
	}
	return nil
}

// CheckBalance 校验余额是否足以支付 amount，无副作用
func (a *Account) CheckBalance(amount int64) error {
	if a.Balance < amount {
		return errs.New(errs.CodeBalanceNotEnough, "余额不足")
	}
	return nil
}

// CheckOwner 校验账户归属
// principalID 来自外部认证会话，属于不可信输入，必须逐次校验
func (a *Account) CheckOwner(principalID int64) error {
	if a.OwnerID != principalID {
		return errs.New(errs.CodeNotOwner, "非本人账户")
	}
	return nil
}
