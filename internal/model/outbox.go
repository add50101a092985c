package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 账务事件类型
const (
	LedgerEventDeposit    = "DEPOSIT"
	LedgerEventWithdrawal = "WITHDRAWAL"
	LedgerEventTransfer   = "TRANSFER"
)

// OutboxMessage 事务性出盒消息表
// 账务事件和余额变动在同一事务内落库，由后台任务异步投递到 Kafka，
// 保证"账动了消息一定会发、账没动消息一定不发"
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// LedgerEvent 出盒消息载荷
type LedgerEvent struct {
	EventNo         string  `json:"event_no"`
	EventType       string  `json:"event_type"`
	Amount          int64   `json:"amount"`
	AmountDisplay   string  `json:"amount_display"`
	WithdrawNumber  *string `json:"withdraw_number,omitempty"`
	WithdrawBalance *int64  `json:"withdraw_balance,omitempty"`
	DepositNumber   *string `json:"deposit_number,omitempty"`
	DepositBalance  *int64  `json:"deposit_balance,omitempty"`
	OccurredAt      string  `json:"occurred_at"`
}
