package payment

// EpayVerifier 易支付（epay 协议族）验签器
//
// 签名规则：除 sign、sign_type 外非空字段按键升序拼接后直接拼接密钥，
// MD5 小写。trade_status 为 TRADE_SUCCESS 才算支付成功
type EpayVerifier struct{}

func (EpayVerifier) Method() string { return MethodEpay }

func (EpayVerifier) Verify(params map[string]string, secret string) (*Notification, error) {
	sign := params["sign"]
	if sign == "" {
		return nil, ErrSignMissing
	}
	if !signEqual(sign, EpaySign(params, secret)) {
		return nil, ErrSignMismatch
	}
	if params["trade_status"] != "TRADE_SUCCESS" {
		return nil, ErrTradeNotPaid
	}

	orderNo := params["out_trade_no"]
	tradeNo := params["trade_no"]
	if orderNo == "" || tradeNo == "" {
		return nil, ErrFieldMissing
	}

	// money 是元为单位的两位小数字符串
	amount, err := FenFromDecimalString(params["money"])
	if err != nil {
		return nil, err
	}

	return &Notification{
		Method:  MethodEpay,
		OrderNo: orderNo,
		TradeNo: tradeNo,
		Amount:  amount,
	}, nil
}

// EpaySign 计算易支付 MD5 签名（小写十六进制）
func EpaySign(params map[string]string, secret string) string {
	return md5Hex(joinSorted(params, "sign", "sign_type") + secret)
}
