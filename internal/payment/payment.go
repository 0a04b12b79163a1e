package payment

import (
	"errors"
)

const (
	MethodWechat   = "wechat"
	MethodEpay     = "epay"
	MethodXunhupay = "xunhupay"
)

var (
	ErrSignMissing   = errors.New("签名字段缺失")
	ErrSignMismatch  = errors.New("签名校验失败")
	ErrTradeNotPaid  = errors.New("渠道状态非支付成功")
	ErrFieldMissing  = errors.New("通知缺少必要字段")
	ErrAmountInvalid = errors.New("通知金额非法")
)

// Notification 验签通过后的统一支付通知
// 金额一律归一化为分，避免各渠道小数表示带来的浮点误差
type Notification struct {
	Method  string // 渠道标识
	OrderNo string // 商户订单号
	TradeNo string // 渠道交易号
	Amount  int64  // 实付金额（分）
}

// Verifier 渠道验签器
//
// 实现必须是纯函数（不访问数据库、不产生副作用），便于用渠道原始报文
// 做单元测试。验签失败或渠道状态非成功时返回错误，调用方不得结算
type Verifier interface {
	Method() string
	Verify(params map[string]string, secret string) (*Notification, error)
}

var verifiers = map[string]Verifier{
	MethodWechat:   WechatVerifier{},
	MethodEpay:     EpayVerifier{},
	MethodXunhupay: XunhupayVerifier{},
}

// VerifierFor 按渠道标识取验签器
func VerifierFor(method string) (Verifier, bool) {
	v, ok := verifiers[method]
	return v, ok
}

// OrderNoHint 从未验签的原始报文里按渠道取商户订单号，只用于审计留痕
// 虎皮椒的字段名是 out_trade_order，其余渠道是 out_trade_no
func OrderNoHint(method string, params map[string]string) string {
	if method == MethodXunhupay {
		return params["out_trade_order"]
	}
	return params["out_trade_no"]
}
