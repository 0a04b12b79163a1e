package payment

// XunhupayVerifier 虎皮椒（xunhupay）验签器
//
// 与易支付同构，但签名字段名是 hash，成功状态码是 OD，
// 商户订单号在 out_trade_order，渠道交易号在 trade_order_id
type XunhupayVerifier struct{}

func (XunhupayVerifier) Method() string { return MethodXunhupay }

func (XunhupayVerifier) Verify(params map[string]string, secret string) (*Notification, error) {
	sign := params["hash"]
	if sign == "" {
		return nil, ErrSignMissing
	}
	if !signEqual(sign, XunhupaySign(params, secret)) {
		return nil, ErrSignMismatch
	}
	if params["status"] != "OD" {
		return nil, ErrTradeNotPaid
	}

	orderNo := params["out_trade_order"]
	tradeNo := params["trade_order_id"]
	if orderNo == "" || tradeNo == "" {
		return nil, ErrFieldMissing
	}

	amount, err := FenFromDecimalString(params["total_fee"])
	if err != nil {
		return nil, err
	}

	return &Notification{
		Method:  MethodXunhupay,
		OrderNo: orderNo,
		TradeNo: tradeNo,
		Amount:  amount,
	}, nil
}

// XunhupaySign 计算虎皮椒 MD5 签名（小写十六进制）
func XunhupaySign(params map[string]string, secret string) string {
	return md5Hex(joinSorted(params, "hash") + secret)
}
