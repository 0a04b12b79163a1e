package payment

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WechatVerifier 微信支付（MD5 签名的 XML 回调）验签器
//
// 签名规则：除 sign 外全部非空字段按键升序拼接，再拼 &key=密钥，MD5 后转大写。
// 支付成功要求 return_code 与 result_code 同时为 SUCCESS
type WechatVerifier struct{}

func (WechatVerifier) Method() string { return MethodWechat }

func (WechatVerifier) Verify(params map[string]string, secret string) (*Notification, error) {
	sign := params["sign"]
	if sign == "" {
		return nil, ErrSignMissing
	}
	if !signEqual(sign, WechatSign(params, secret)) {
		return nil, ErrSignMismatch
	}
	if params["return_code"] != "SUCCESS" || params["result_code"] != "SUCCESS" {
		return nil, ErrTradeNotPaid
	}

	orderNo := params["out_trade_no"]
	tradeNo := params["transaction_id"]
	if orderNo == "" || tradeNo == "" {
		return nil, ErrFieldMissing
	}

	// total_fee 本身就是分为单位的整数
	fee, err := strconv.ParseInt(params["total_fee"], 10, 64)
	if err != nil || fee <= 0 {
		return nil, ErrAmountInvalid
	}

	return &Notification{
		Method:  MethodWechat,
		OrderNo: orderNo,
		TradeNo: tradeNo,
		Amount:  fee,
	}, nil
}

// WechatSign 计算微信 MD5 签名（大写十六进制）
func WechatSign(params map[string]string, secret string) string {
	return strings.ToUpper(md5Hex(joinSorted(params, "sign") + "&key=" + secret))
}

// DecodeXML 把微信回调的扁平 XML 解成字符串映射
func DecodeXML(body []byte) (map[string]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	params := make(map[string]string)
	var key string
	depth := 0

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 XML 失败: %w", err)
		}
		switch t := token.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 {
				key = t.Name.Local
			}
		case xml.EndElement:
			depth--
			key = ""
		case xml.CharData:
			if depth == 2 && key != "" {
				params[key] += string(t)
			}
		}
	}

	if len(params) == 0 {
		return nil, fmt.Errorf("XML 报文为空")
	}
	return params, nil
}

// EncodeXML 把参数编码为微信接口要求的扁平 XML
func EncodeXML(params map[string]string) string {
	var b strings.Builder
	b.WriteString("<xml>")
	for k, v := range params {
		b.WriteString("<" + k + "><![CDATA[" + v + "]]></" + k + ">")
	}
	b.WriteString("</xml>")
	return b.String()
}

// WechatAckSuccess 微信回调成功应答体
func WechatAckSuccess() string {
	return "<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>"
}

// WechatAckFail 微信回调失败应答体，微信会按自己的策略重试
func WechatAckFail(msg string) string {
	if msg == "" {
		msg = "FAIL"
	}
	return "<xml><return_code><![CDATA[FAIL]]></return_code><return_msg><![CDATA[" + msg + "]]></return_msg></xml>"
}
