package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"bankledger/internal/config"
	"bankledger/internal/infrastructure/lock"
	"bankledger/internal/model"
	"bankledger/internal/repository"
	"bankledger/pkg/errs"
	"bankledger/pkg/idgen"
	"bankledger/pkg/moneyfmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// ============================================================================
// 账务核心服务
// ============================================================================
//
// 每个公开操作都是一个原子工作单元：
//   1. 校验（归属、凭证、余额）全部发生在任何写入之前
//   2. 余额变更和 history 明细在同一个 db.Transaction 内落库
//   3. 任意一步失败整体回滚，不存在"只动了一半"的可见状态
//
// 并发控制分两层：
//   - Redis 账户锁把同一账户的出金/转账在多实例间串行化（未配置时退化）
//   - 数据库条件更新（balance >= ? AND version = ?）兜底，锁失效也不会超扣
//
// ============================================================================

type LedgerService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	accountRepo *repository.AccountRepository
	historyRepo *repository.HistoryRepository
	outboxRepo  *repository.OutboxRepository
}

// NewLedgerService 创建账务服务
// redisClient 允许为 nil：此时只依赖数据库层的条件更新做并发兜底
func NewLedgerService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config) *LedgerService {
	return &LedgerService{
		db:          db,
		redisClient: redisClient,
		cfg:         cfg,
		accountRepo: repository.NewAccountRepository(db),
		historyRepo: repository.NewHistoryRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
	}
}

// ============================================================================
// 请求/响应 DTO
// ============================================================================

type CreateAccountRequest struct {
	OwnerID        int64  `json:"owner_id"`
	Number         string `json:"number"`
	Password       string `json:"password"`
	InitialBalance int64  `json:"initial_balance"`
}

type WithdrawRequest struct {
	AccountNumber string `json:"account_number"`
	Password      string `json:"password"`
	Amount        int64  `json:"amount"`
}

type DepositRequest struct {
	AccountNumber string `json:"account_number"`
	Amount        int64  `json:"amount"`
}

type TransferRequest struct {
	WithdrawNumber string `json:"withdraw_number"`
	DepositNumber  string `json:"deposit_number"`
	Password       string `json:"password"`
	Amount         int64  `json:"amount"`
}

// TransferResult 转账结果：两侧账户的变动后快照
type TransferResult struct {
	WithdrawAccount *model.Account `json:"withdraw_account"`
	DepositAccount  *model.Account `json:"deposit_account"`
}

// ============================================================================
// 写操作
// ============================================================================

// CreateAccount 开户
func (s *LedgerService) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*model.Account, error) {
	if req.Number == "" || req.Password == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "账户号和密码不能为空")
	}
	if req.InitialBalance < 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "初始余额不能为负数")
	}

	hash, err := model.HashPassword(req.Password)
	if err != nil {
		return nil, errs.Wrap(errs.CodeUnavailable, "生成凭证失败", err)
	}

	account := &model.Account{
		Number:   req.Number,
		Password: hash,
		Balance:  req.InitialBalance,
		OwnerID:  req.OwnerID,
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Business.OpTimeout())
	defer cancel()

	err = s.db.Transaction(func(tx *gorm.DB) error {
		rows, err := s.accountRepo.Insert(ctx, tx, account)
		if err != nil {
			return errs.Wrap(errs.CodePersistenceError, "创建账户失败", err)
		}
		if rows == 0 {
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		}
		return nil
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("开户成功: number=%s, ownerID=%d, balance=%s",
		account.Number, account.OwnerID, moneyfmt.Display(account.Balance))

	return account, nil
}

// Withdraw 出金
// principalID 来自外部认证会话，必须与账户归属比对
func (s *LedgerService) Withdraw(ctx context.Context, req *WithdrawRequest, principalID int64) (*model.Account, error) {
	if req.Amount <= 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "出金金额必须大于0")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Business.OpTimeout())
	defer cancel()

	accountLock, err := s.lockAccount(ctx, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	if accountLock != nil {
		defer accountLock.Unlock(ctx)
	}

	var account *model.Account
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.accountRepo.FindByNumber(ctx, tx, req.AccountNumber)
		if err != nil {
			return s.classifyAccountLookup(err, "账户不存在")
		}

		if err := account.CheckOwner(principalID); err != nil {
			return err
		}
		if err := account.CheckPassword(req.Password); err != nil {
			return err
		}
		if err := account.CheckBalance(req.Amount); err != nil {
			return err
		}

		if err := s.deduct(ctx, tx, account, req.Amount); err != nil {
			return err
		}

		wAccountID, wBalance := account.ID, account.Balance
		history := &model.History{
			Amount:            req.Amount,
			WithdrawAccountID: &wAccountID,
			WithdrawBalance:   &wBalance,
		}
		rows, err := s.historyRepo.Insert(ctx, tx, history)
		if err != nil {
			return errs.Wrap(errs.CodePersistenceError, "记录交易明细失败", err)
		}
		if rows != 1 {
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		}

		return s.appendEvent(ctx, tx, &model.LedgerEvent{
			EventType:       model.LedgerEventWithdrawal,
			Amount:          req.Amount,
			WithdrawNumber:  &account.Number,
			WithdrawBalance: &wBalance,
		})
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("出金成功: number=%s, amount=%s, balance=%s",
		account.Number, moneyfmt.Display(req.Amount), moneyfmt.Display(account.Balance))

	return account, nil
}

// Deposit 入金
// 入金不校验归属和凭证，任何人都可以向已知账户号入金
func (s *LedgerService) Deposit(ctx context.Context, req *DepositRequest) (*model.Account, error) {
	if req.Amount <= 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "入金金额必须大于0")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Business.OpTimeout())
	defer cancel()

	var account *model.Account
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.accountRepo.FindByNumber(ctx, tx, req.AccountNumber)
		if err != nil {
			return s.classifyAccountLookup(err, "账户不存在")
		}

		if err := s.increase(ctx, tx, account, req.Amount); err != nil {
			return err
		}

		dAccountID, dBalance := account.ID, account.Balance
		history := &model.History{
			Amount:           req.Amount,
			DepositAccountID: &dAccountID,
			DepositBalance:   &dBalance,
		}
		rows, err := s.historyRepo.Insert(ctx, tx, history)
		if err != nil {
			return errs.Wrap(errs.CodePersistenceError, "记录交易明细失败", err)
		}
		if rows != 1 {
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		}

		return s.appendEvent(ctx, tx, &model.LedgerEvent{
			EventType:      model.LedgerEventDeposit,
			Amount:         req.Amount,
			DepositNumber:  &account.Number,
			DepositBalance: &dBalance,
		})
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("入金成功: number=%s, amount=%s, balance=%s",
		account.Number, moneyfmt.Display(req.Amount), moneyfmt.Display(account.Balance))

	return account, nil
}

// Transfer 转账
// 校验只作用在转出账户上；两侧余额变更和唯一一条双边明细同事务落库，
// 任何一步失败两侧都回滚，不存在只动一侧的可见状态
func (s *LedgerService) Transfer(ctx context.Context, req *TransferRequest, principalID int64) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "转账金额必须大于0")
	}
	if req.WithdrawNumber == req.DepositNumber {
		return nil, errs.New(errs.CodeInvalidArgument, "转出与转入账户不能相同")
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Business.OpTimeout())
	defer cancel()

	accountLock, err := s.lockAccount(ctx, req.WithdrawNumber)
	if err != nil {
		return nil, err
	}
	if accountLock != nil {
		defer accountLock.Unlock(ctx)
	}

	var withdrawAccount, depositAccount *model.Account
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		withdrawAccount, err = s.accountRepo.FindByNumber(ctx, tx, req.WithdrawNumber)
		if err != nil {
			return s.classifyAccountLookup(err, "转出账户不存在")
		}
		depositAccount, err = s.accountRepo.FindByNumber(ctx, tx, req.DepositNumber)
		if err != nil {
			return s.classifyAccountLookup(err, "转入账户不存在")
		}

		if err := withdrawAccount.CheckOwner(principalID); err != nil {
			return err
		}
		if err := withdrawAccount.CheckPassword(req.Password); err != nil {
			return err
		}
		if err := withdrawAccount.CheckBalance(req.Amount); err != nil {
			return err
		}

		// 先入金后出金，和账务处理顺序保持一致
		if err := s.increase(ctx, tx, depositAccount, req.Amount); err != nil {
			return err
		}
		if err := s.deduct(ctx, tx, withdrawAccount, req.Amount); err != nil {
			return err
		}

		wAccountID, wBalance := withdrawAccount.ID, withdrawAccount.Balance
		dAccountID, dBalance := depositAccount.ID, depositAccount.Balance
		history := &model.History{
			Amount:            req.Amount,
			WithdrawAccountID: &wAccountID,
			WithdrawBalance:   &wBalance,
			DepositAccountID:  &dAccountID,
			DepositBalance:    &dBalance,
		}
		rows, err := s.historyRepo.Insert(ctx, tx, history)
		if err != nil {
			return errs.Wrap(errs.CodePersistenceError, "记录交易明细失败", err)
		}
		if rows != 1 {
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		}

		return s.appendEvent(ctx, tx, &model.LedgerEvent{
			EventType:       model.LedgerEventTransfer,
			Amount:          req.Amount,
			WithdrawNumber:  &withdrawAccount.Number,
			WithdrawBalance: &wBalance,
			DepositNumber:   &depositAccount.Number,
			DepositBalance:  &dBalance,
		})
	})
	if err != nil {
		return nil, s.classify(err)
	}

	log.Printf("转账成功: from=%s, to=%s, amount=%s",
		withdrawAccount.Number, depositAccount.Number, moneyfmt.Display(req.Amount))

	return &TransferResult{
		WithdrawAccount: withdrawAccount,
		DepositAccount:  depositAccount,
	}, nil
}

// ============================================================================
// 读操作
// ============================================================================

// ReadAccountByID 单账户查询（只读快照）
func (s *LedgerService) ReadAccountByID(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		return nil, s.classifyAccountLookup(err, "账户不存在")
	}
	return account, nil
}

// ReadAccountListByOwner 查询用户名下所有账户
func (s *LedgerService) ReadAccountListByOwner(ctx context.Context, ownerID int64) ([]*model.Account, error) {
	accounts, err := s.accountRepo.FindByOwnerID(ctx, ownerID)
	if err != nil {
		return nil, errs.Wrap(errs.CodePersistenceError, "查询账户列表失败", err)
	}
	return accounts, nil
}

// ReadHistoryByAccount 分页查询账户交易明细，按创建时间倒序
// type 取值 all / deposit / withdrawal
func (s *LedgerService) ReadHistoryByAccount(ctx context.Context, historyType string, accountID int64, page, size int) ([]*model.HistoryAccount, error) {
	if !model.IsValidHistoryType(historyType) {
		return nil, errs.New(errs.CodeInvalidArgument, fmt.Sprintf("不支持的明细类型: %s", historyType))
	}
	if page < 1 || size <= 0 {
		return nil, errs.New(errs.CodeInvalidArgument, "分页参数不合法")
	}

	limit := size
	offset := (page - 1) * size
	rows, err := s.historyRepo.FindByAccountAndType(ctx, historyType, accountID, limit, offset)
	if err != nil {
		return nil, errs.Wrap(errs.CodePersistenceError, "查询交易明细失败", err)
	}
	return rows, nil
}

// CountHistoryByAccountAndType 统计账户明细总数，供分页使用
func (s *LedgerService) CountHistoryByAccountAndType(ctx context.Context, historyType string, accountID int64) (int64, error) {
	if !model.IsValidHistoryType(historyType) {
		return 0, errs.New(errs.CodeInvalidArgument, fmt.Sprintf("不支持的明细类型: %s", historyType))
	}

	total, err := s.historyRepo.CountByAccountAndType(ctx, historyType, accountID)
	if err != nil {
		return 0, errs.Wrap(errs.CodePersistenceError, "统计交易明细失败", err)
	}
	return total, nil
}

// ============================================================================
// 内部工具
// ============================================================================

// deduct 条件扣款并同步内存快照
func (s *LedgerService) deduct(ctx context.Context, tx *gorm.DB, account *model.Account, amount int64) error {
	if err := s.accountRepo.DeductBalance(ctx, tx, account.ID, amount, account.Version); err != nil {
		switch {
		case errors.Is(err, repository.ErrBalanceNotEnough):
			return errs.New(errs.CodeBalanceNotEnough, "余额不足")
		case errors.Is(err, repository.ErrOptimisticLock):
			return errs.Wrap(errs.CodeUnavailable, "系统繁忙，请重试", err)
		case errors.Is(err, repository.ErrAccountNotFound):
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		default:
			return errs.Wrap(errs.CodePersistenceError, "出金扣款失败", err)
		}
	}
	account.Withdraw(amount)
	account.Version++
	return nil
}

// increase 加款并同步内存快照
func (s *LedgerService) increase(ctx context.Context, tx *gorm.DB, account *model.Account, amount int64) error {
	if err := s.accountRepo.IncreaseBalance(ctx, tx, account.ID, amount); err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return errs.New(errs.CodeProcessingFailed, "处理失败，请重试")
		}
		return errs.Wrap(errs.CodePersistenceError, "入金加款失败", err)
	}
	account.Deposit(amount)
	account.Version++
	return nil
}

// appendEvent 在当前事务内写入账务事件的出盒消息
func (s *LedgerService) appendEvent(ctx context.Context, tx *gorm.DB, event *model.LedgerEvent) error {
	event.EventNo = idgen.GenerateEventNo()
	event.AmountDisplay = moneyfmt.Display(event.Amount)
	event.OccurredAt = time.Now().Format(time.RFC3339)

	payload, err := json.Marshal(event)
	if err != nil {
		return errs.Wrap(errs.CodeUnavailable, "序列化账务事件失败", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: event.EventNo,
		Topic:      s.cfg.Kafka.Topic.LedgerEvent,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return errs.Wrap(errs.CodePersistenceError, "写入账务事件失败", err)
	}
	return nil
}

// lockAccount 获取账户维度的分布式锁
// 未配置 Redis 时返回 nil 锁，只依赖数据库条件更新兜底
func (s *LedgerService) lockAccount(ctx context.Context, number string) (*lock.DistributedLock, error) {
	if s.redisClient == nil {
		return nil, nil
	}
	accountLock := lock.NewAccountLock(s.redisClient, number, idgen.GenerateLockToken())
	if err := accountLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, errs.Wrap(errs.CodeUnavailable, "系统繁忙，请稍后重试", err)
	}
	return accountLock, nil
}

// classifyAccountLookup 把账户查询错误收敛成业务错误
func (s *LedgerService) classifyAccountLookup(err error, message string) error {
	if errors.Is(err, repository.ErrAccountNotFound) {
		return errs.New(errs.CodeAccountNotFound, message)
	}
	return errs.Wrap(errs.CodePersistenceError, "查询账户失败", err)
}

// classify 统一出口：业务错误原样返回，其余按超时/未知收敛
func (s *LedgerService) classify(err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.CodeUnavailable, "操作超时", err)
	}
	return errs.Wrap(errs.CodeUnavailable, "未知错误", err)
}
