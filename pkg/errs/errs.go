package errs

import (
	"errors"
	"fmt"
)

// ============================================================================
// 业务错误定义
// ============================================================================
//
// 账务核心对外只抛出带业务码的错误，存储层的具体错误（gorm、驱动）
// 一律在服务边界被收敛成这里的错误码，不向调用方泄露。
//
// 所有校验类错误都在任何写操作之前产生，事务内任意一步失败会整体回滚，
// 因此调用方拿到错误时可以认定账务状态没有发生任何变化。
//
// ============================================================================

const (
	CodeInvalidArgument   = 400 // 参数不合法
	CodeUnavailable       = 503 // 未分类失败（超时、并发冲突等，可重试）
	CodeAccountNotFound   = 1001
	CodeNotOwner          = 1002
	CodeInvalidCredential = 1003
	CodeBalanceNotEnough  = 1004
	CodeProcessingFailed  = 1005 // 存储层影响行数异常
	CodePersistenceError  = 1006 // 存储层/连接故障
)

// Error 业务错误，携带业务码、提示信息和底层原因
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建业务错误
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap 包装底层错误为业务错误，保留原因链供 errors.Is/As 使用
func Wrap(code int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf 提取错误的业务码，非业务错误返回 0
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// Is 判断错误是否携带指定业务码
func Is(err error, code int) bool {
	return CodeOf(err) == code
}
