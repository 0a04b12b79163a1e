package payment

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// joinSorted 按键升序拼接 k=v&k=v，跳过空值与排除字段
// 这是三家聚合渠道共同的待签名串构造规则，差异只在密钥拼接方式和大小写
func joinSorted(params map[string]string, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || skip[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	return b.String()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// signEqual 时间恒定的签名比较，大小写不敏感
func signEqual(got, want string) bool {
	g := strings.ToLower(got)
	w := strings.ToLower(want)
	if len(g) != len(w) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g), []byte(w)) == 1
}

// FenFromDecimalString 把渠道的元为单位小数字符串转成分
// 超过两位小数（分以下精度）视为非法
func FenFromDecimalString(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, ErrAmountInvalid
	}
	fen := d.Mul(decimal.NewFromInt(100))
	if !fen.Equal(fen.Truncate(0)) {
		return 0, ErrAmountInvalid
	}
	if fen.IsNegative() || fen.IsZero() {
		return 0, ErrAmountInvalid
	}
	return fen.IntPart(), nil
}

// FenToDecimalString 分转两位小数的元字符串，供网关下单参数使用
func FenToDecimalString(fen int64) string {
	return decimal.NewFromInt(fen).Div(decimal.NewFromInt(100)).StringFixed(2)
}
