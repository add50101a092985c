package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bankledger/internal/config"
	"bankledger/internal/model"
	"bankledger/pkg/errs"
)

func testConfig() *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{OpTimeoutSeconds: 5, MaxRetryCount: 3},
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LedgerEvent: "ledger-event"},
		},
	}
}

func openTestDB(t *testing.T, models ...interface{}) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// 内存库必须限制为单连接，否则每个连接各自是一个空库
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(models...))
	return db
}

// newTestService 未配置 Redis：并发兜底完全依赖数据库条件更新
func newTestService(t *testing.T) (*LedgerService, *gorm.DB) {
	t.Helper()
	db := openTestDB(t, &model.Account{}, &model.History{}, &model.OutboxMessage{})
	return NewLedgerService(db, nil, testConfig()), db
}

func createAccount(t *testing.T, svc *LedgerService, number string, balance int64, ownerID int64) *model.Account {
	t.Helper()
	account, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{
		OwnerID:        ownerID,
		Number:         number,
		Password:       "1234",
		InitialBalance: balance,
	})
	require.NoError(t, err)
	return account
}

func countHistory(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&model.History{}).Count(&total).Error)
	return total
}

func countOutbox(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&total).Error)
	return total
}

// ============================================================================
// 开户
// ============================================================================

func TestCreateAccount(t *testing.T) {
	svc, _ := newTestService(t)

	account := createAccount(t, svc, "1111-1111", 10000, 1)
	assert.NotZero(t, account.ID)
	assert.Equal(t, int64(10000), account.Balance)
	assert.Equal(t, int64(1), account.OwnerID)
	// 凭证已哈希
	assert.NotEqual(t, "1234", account.Password)
	assert.NoError(t, account.CheckPassword("1234"))
}

func TestCreateAccountInvalidArgument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateAccount(ctx, &CreateAccountRequest{OwnerID: 1, Number: "", Password: "1234"})
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = svc.CreateAccount(ctx, &CreateAccountRequest{OwnerID: 1, Number: "1111-1111", Password: ""})
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = svc.CreateAccount(ctx, &CreateAccountRequest{
		OwnerID: 1, Number: "1111-1111", Password: "1234", InitialBalance: -1,
	})
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

func TestCreateAccountDuplicateNumber(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 0, 1)

	_, err := svc.CreateAccount(context.Background(), &CreateAccountRequest{
		OwnerID: 2, Number: "1111-1111", Password: "1234",
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodePersistenceError))
}

// ============================================================================
// 出金
// ============================================================================

func TestWithdraw(t *testing.T) {
	svc, db := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 10000, 1)

	got, err := svc.Withdraw(context.Background(), &WithdrawRequest{
		AccountNumber: "1111-1111",
		Password:      "1234",
		Amount:        3000,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), got.Balance)

	// 落库余额一致
	persisted, err := svc.ReadAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), persisted.Balance)

	// 恰好一条明细：只有出金侧，记录变动后余额
	var histories []*model.History
	require.NoError(t, db.Find(&histories).Error)
	require.Len(t, histories, 1)
	h := histories[0]
	assert.Equal(t, int64(3000), h.Amount)
	require.NotNil(t, h.WithdrawAccountID)
	assert.Equal(t, account.ID, *h.WithdrawAccountID)
	require.NotNil(t, h.WithdrawBalance)
	assert.Equal(t, int64(7000), *h.WithdrawBalance)
	assert.Nil(t, h.DepositAccountID)
	assert.Nil(t, h.DepositBalance)

	// 出盒事件同事务落库
	assert.Equal(t, int64(1), countOutbox(t, db))
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	svc, db := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 5000, 1)

	_, err := svc.Withdraw(context.Background(), &WithdrawRequest{
		AccountNumber: "1111-1111",
		Password:      "1234",
		Amount:        999999,
	}, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeBalanceNotEnough))

	// 余额不变，无明细产生
	persisted, err := svc.ReadAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), persisted.Balance)
	assert.Equal(t, int64(0), countHistory(t, db))
	assert.Equal(t, int64(0), countOutbox(t, db))
}

func TestWithdrawNotOwner(t *testing.T) {
	svc, db := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 5000, 1)

	_, err := svc.Withdraw(context.Background(), &WithdrawRequest{
		AccountNumber: "1111-1111",
		Password:      "1234",
		Amount:        1000,
	}, 2)
	assert.True(t, errs.Is(err, errs.CodeNotOwner))

	persisted, err := svc.ReadAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), persisted.Balance)
	assert.Equal(t, int64(0), countHistory(t, db))
}

func TestWithdrawWrongPassword(t *testing.T) {
	svc, db := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 5000, 1)

	_, err := svc.Withdraw(context.Background(), &WithdrawRequest{
		AccountNumber: "1111-1111",
		Password:      "4321",
		Amount:        1000,
	}, 1)
	assert.True(t, errs.Is(err, errs.CodeInvalidCredential))

	persisted, err := svc.ReadAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), persisted.Balance)
	assert.Equal(t, int64(0), countHistory(t, db))
}

func TestWithdrawAccountNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Withdraw(context.Background(), &WithdrawRequest{
		AccountNumber: "9999-9999",
		Password:      "1234",
		Amount:        1000,
	}, 1)
	assert.True(t, errs.Is(err, errs.CodeAccountNotFound))
}

func TestWithdrawInvalidAmount(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 5000, 1)

	for _, amount := range []int64{0, -100} {
		_, err := svc.Withdraw(context.Background(), &WithdrawRequest{
			AccountNumber: "1111-1111",
			Password:      "1234",
			Amount:        amount,
		}, 1)
		assert.True(t, errs.Is(err, errs.CodeInvalidArgument), "amount=%d", amount)
	}
}

// ============================================================================
// 入金
// ============================================================================

func TestDeposit(t *testing.T) {
	svc, db := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 1000, 1)

	got, err := svc.Deposit(context.Background(), &DepositRequest{
		AccountNumber: "1111-1111",
		Amount:        500,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Balance)

	// 只有入金侧的明细
	var histories []*model.History
	require.NoError(t, db.Find(&histories).Error)
	require.Len(t, histories, 1)
	h := histories[0]
	require.NotNil(t, h.DepositAccountID)
	assert.Equal(t, account.ID, *h.DepositAccountID)
	require.NotNil(t, h.DepositBalance)
	assert.Equal(t, int64(1500), *h.DepositBalance)
	assert.Nil(t, h.WithdrawAccountID)
	assert.Nil(t, h.WithdrawBalance)
}

func TestDepositAccountNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Deposit(context.Background(), &DepositRequest{
		AccountNumber: "9999-9999",
		Amount:        500,
	})
	assert.True(t, errs.Is(err, errs.CodeAccountNotFound))
}

// ============================================================================
// 转账
// ============================================================================

func TestTransfer(t *testing.T) {
	svc, db := newTestService(t)
	src := createAccount(t, svc, "1111-1111", 7000, 1)
	dst := createAccount(t, svc, "2222-2222", 5000, 2)

	result, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "2222-2222",
		Password:       "1234",
		Amount:         2000,
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), result.WithdrawAccount.Balance)
	assert.Equal(t, int64(7000), result.DepositAccount.Balance)

	// 总额守恒
	srcAfter, err := svc.ReadAccountByID(context.Background(), src.ID)
	require.NoError(t, err)
	dstAfter, err := svc.ReadAccountByID(context.Background(), dst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000+5000), srcAfter.Balance+dstAfter.Balance)

	// 整笔转账恰好一条双边明细，两侧变动后余额都正确
	var histories []*model.History
	require.NoError(t, db.Find(&histories).Error)
	require.Len(t, histories, 1)
	h := histories[0]
	assert.Equal(t, int64(2000), h.Amount)
	require.NotNil(t, h.WithdrawAccountID)
	require.NotNil(t, h.DepositAccountID)
	assert.Equal(t, src.ID, *h.WithdrawAccountID)
	assert.Equal(t, dst.ID, *h.DepositAccountID)
	require.NotNil(t, h.WithdrawBalance)
	require.NotNil(t, h.DepositBalance)
	assert.Equal(t, int64(5000), *h.WithdrawBalance)
	assert.Equal(t, int64(7000), *h.DepositBalance)
}

func TestTransferSourceChecksOnly(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 7000, 1)
	createAccount(t, svc, "2222-2222", 5000, 2)

	// 归属校验只作用在转出账户：principal 是转入账户的主人也不行
	_, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "2222-2222",
		Password:       "1234",
		Amount:         1000,
	}, 2)
	assert.True(t, errs.Is(err, errs.CodeNotOwner))
}

func TestTransferAccountNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 7000, 1)

	// 转出账户不存在
	_, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "9999-9999",
		DepositNumber:  "1111-1111",
		Password:       "1234",
		Amount:         1000,
	}, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeAccountNotFound))
	assert.Contains(t, err.Error(), "转出账户不存在")

	// 转入账户不存在
	_, err = svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "9999-9999",
		Password:       "1234",
		Amount:         1000,
	}, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeAccountNotFound))
	assert.Contains(t, err.Error(), "转入账户不存在")
}

func TestTransferSameAccount(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 7000, 1)

	_, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "1111-1111",
		Password:       "1234",
		Amount:         1000,
	}, 1)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

func TestTransferInsufficientBalance(t *testing.T) {
	svc, db := newTestService(t)
	src := createAccount(t, svc, "1111-1111", 500, 1)
	dst := createAccount(t, svc, "2222-2222", 0, 2)

	_, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "2222-2222",
		Password:       "1234",
		Amount:         1000,
	}, 1)
	assert.True(t, errs.Is(err, errs.CodeBalanceNotEnough))

	// 两侧余额都不变
	srcAfter, err := svc.ReadAccountByID(context.Background(), src.ID)
	require.NoError(t, err)
	dstAfter, err := svc.ReadAccountByID(context.Background(), dst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), srcAfter.Balance)
	assert.Equal(t, int64(0), dstAfter.Balance)
	assert.Equal(t, int64(0), countHistory(t, db))
}

// TestTransferAtomicity 强制让明细落库失败（未建 history 表），
// 入金侧已执行的加款必须随事务整体回滚，两侧余额回到转账前
func TestTransferAtomicity(t *testing.T) {
	db := openTestDB(t, &model.Account{}, &model.OutboxMessage{})
	svc := NewLedgerService(db, nil, testConfig())

	src := createAccount(t, svc, "1111-1111", 7000, 1)
	dst := createAccount(t, svc, "2222-2222", 5000, 2)

	_, err := svc.Transfer(context.Background(), &TransferRequest{
		WithdrawNumber: "1111-1111",
		DepositNumber:  "2222-2222",
		Password:       "1234",
		Amount:         2000,
	}, 1)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodePersistenceError))

	srcAfter, err := svc.ReadAccountByID(context.Background(), src.ID)
	require.NoError(t, err)
	dstAfter, err := svc.ReadAccountByID(context.Background(), dst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), srcAfter.Balance)
	assert.Equal(t, int64(5000), dstAfter.Balance)
	assert.Equal(t, int64(0), countOutbox(t, db))
}

// ============================================================================
// 查询
// ============================================================================

func TestReadAccountByID(t *testing.T) {
	svc, _ := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 10000, 1)

	got, err := svc.ReadAccountByID(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, "1111-1111", got.Number)

	_, err = svc.ReadAccountByID(context.Background(), 99999)
	assert.True(t, errs.Is(err, errs.CodeAccountNotFound))
}

func TestReadAccountListByOwner(t *testing.T) {
	svc, _ := newTestService(t)
	createAccount(t, svc, "1111-1111", 100, 7)
	createAccount(t, svc, "2222-2222", 200, 7)
	createAccount(t, svc, "3333-3333", 300, 8)

	accounts, err := svc.ReadAccountListByOwner(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	accounts, err = svc.ReadAccountListByOwner(context.Background(), 99)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestReadHistoryByAccountPagination(t *testing.T) {
	svc, _ := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 0, 1)

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_, err := svc.Deposit(ctx, &DepositRequest{AccountNumber: "1111-1111", Amount: int64(i + 1)})
		require.NoError(t, err)
	}

	page1, err := svc.ReadHistoryByAccount(ctx, model.HistoryTypeAll, account.ID, 1, 10)
	require.NoError(t, err)
	page2, err := svc.ReadHistoryByAccount(ctx, model.HistoryTypeAll, account.ID, 2, 10)
	require.NoError(t, err)

	assert.Len(t, page1, 10)
	assert.Len(t, page2, 10)

	// 两页不相交
	ids := make(map[int64]bool)
	for _, row := range page1 {
		ids[row.ID] = true
	}
	for _, row := range page2 {
		assert.False(t, ids[row.ID], "明细 %d 出现在多页", row.ID)
	}

	total, err := svc.CountHistoryByAccountAndType(ctx, model.HistoryTypeAll, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)
}

func TestReadHistoryInvalidArgument(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ReadHistoryByAccount(ctx, "refund", 1, 1, 10)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = svc.ReadHistoryByAccount(ctx, model.HistoryTypeAll, 1, 0, 10)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = svc.ReadHistoryByAccount(ctx, model.HistoryTypeAll, 1, 1, 0)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))

	_, err = svc.CountHistoryByAccountAndType(ctx, "refund", 1)
	assert.True(t, errs.Is(err, errs.CodeInvalidArgument))
}

// ============================================================================
// 不变量
// ============================================================================

// TestBalanceNeverNegative 任意已提交操作序列之后余额都不为负
func TestBalanceNeverNegative(t *testing.T) {
	svc, _ := newTestService(t)
	account := createAccount(t, svc, "1111-1111", 1000, 1)
	createAccount(t, svc, "2222-2222", 0, 2)

	ctx := context.Background()
	ops := []func() error{
		func() error {
			_, err := svc.Withdraw(ctx, &WithdrawRequest{AccountNumber: "1111-1111", Password: "1234", Amount: 600}, 1)
			return err
		},
		func() error {
			_, err := svc.Withdraw(ctx, &WithdrawRequest{AccountNumber: "1111-1111", Password: "1234", Amount: 600}, 1)
			return err
		},
		func() error {
			_, err := svc.Transfer(ctx, &TransferRequest{
				WithdrawNumber: "1111-1111", DepositNumber: "2222-2222", Password: "1234", Amount: 600,
			}, 1)
			return err
		},
		func() error {
			_, err := svc.Deposit(ctx, &DepositRequest{AccountNumber: "1111-1111", Amount: 300})
			return err
		},
	}

	for _, op := range ops {
		_ = op() // 允许失败，失败必定无副作用

		got, err := svc.ReadAccountByID(ctx, account.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.Balance, int64(0))
	}
}
