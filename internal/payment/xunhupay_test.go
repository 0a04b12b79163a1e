package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func xunhupayParams() map[string]string {
	return map[string]string{
		"appid":           "201906120000",
		"out_trade_order": "SL20250101ABC",
		"status":          "OD",
		"total_fee":       "9.90",
		"trade_order_id":  "HP2025010100001",
		"hash":            "184129e536bbf4d3dee874298b90ebbf",
	}
}

func TestXunhupayVerifyOK(t *testing.T) {
	n, err := XunhupayVerifier{}.Verify(xunhupayParams(), "testsecret")
	assert.NoError(t, err)
	assert.Equal(t, MethodXunhupay, n.Method)
	assert.Equal(t, "SL20250101ABC", n.OrderNo)
	assert.Equal(t, "HP2025010100001", n.TradeNo)
	assert.Equal(t, int64(990), n.Amount)
}

func TestXunhupayVerifySignMissing(t *testing.T) {
	params := xunhupayParams()
	delete(params, "hash")
	_, err := XunhupayVerifier{}.Verify(params, "testsecret")
	assert.ErrorIs(t, err, ErrSignMissing)
}

func TestXunhupayVerifySignMismatch(t *testing.T) {
	params := xunhupayParams()
	params["total_fee"] = "0.01"
	_, err := XunhupayVerifier{}.Verify(params, "testsecret")
	assert.ErrorIs(t, err, ErrSignMismatch)
}

func TestXunhupayVerifyNotPaid(t *testing.T) {
	params := xunhupayParams()
	params["status"] = "CD"
	params["hash"] = XunhupaySign(params, "testsecret")
	_, err := XunhupayVerifier{}.Verify(params, "testsecret")
	assert.ErrorIs(t, err, ErrTradeNotPaid)
}

func TestXunhupayVerifyFieldMissing(t *testing.T) {
	params := xunhupayParams()
	delete(params, "trade_order_id")
	params["hash"] = XunhupaySign(params, "testsecret")
	_, err := XunhupayVerifier{}.Verify(params, "testsecret")
	assert.ErrorIs(t, err, ErrFieldMissing)
}

func TestVerifierFor(t *testing.T) {
	for _, method := range []string{MethodWechat, MethodEpay, MethodXunhupay} {
		v, ok := VerifierFor(method)
		assert.True(t, ok)
		assert.Equal(t, method, v.Method())
	}
	_, ok := VerifierFor("paypal")
	assert.False(t, ok)
}

func TestOrderNoHint(t *testing.T) {
	assert.Equal(t, "SL1", OrderNoHint(MethodXunhupay, map[string]string{"out_trade_order": "SL1"}))
	assert.Equal(t, "SL2", OrderNoHint(MethodEpay, map[string]string{"out_trade_no": "SL2"}))
	assert.Equal(t, "SL3", OrderNoHint(MethodWechat, map[string]string{"out_trade_no": "SL3"}))
	// 虎皮椒报文里没有 out_trade_no，不能拿错字段
	assert.Empty(t, OrderNoHint(MethodXunhupay, map[string]string{"out_trade_no": "SL4"}))
}
