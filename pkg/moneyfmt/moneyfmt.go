package moneyfmt

import (
	"fmt"
	"strconv"
)

// Comma 把最小货币单位金额格式化成千分位字符串
// 例如 123456 -> "123,456"
func Comma(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}

	s := strconv.FormatInt(amount, 10)
	n := len(s)
	if n <= 3 {
		return sign + s
	}

	// 从高位开始按 3 位分组
	out := make([]byte, 0, n+n/3)
	head := n % 3
	if head > 0 {
		out = append(out, s[:head]...)
	}
	for i := head; i < n; i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return sign + string(out)
}

// Display 金额展示文案，例如 123456 -> "123,456 元"
func Display(amount int64) string {
	return fmt.Sprintf("%s 元", Comma(amount))
}
