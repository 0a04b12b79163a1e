package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CreateRequest 渠道下单请求
type CreateRequest struct {
	Method     string
	OrderNo    string
	Subject    string
	Amount     int64 // 分
	ClientIP   string
	NotifyURL  string
	ReturnURL  string
	MerchantID string
	Secret     string
	GatewayURL string // 渠道网关地址，取自渠道配置
}

// PayResult 渠道下单结果
type PayResult struct {
	PayURL  string `json:"pay_url"`
	QRCode  string `json:"qr_code"`
	TradeNo string `json:"trade_no"`
}

// Gateway 支付网关能力
// 真实实现走 HTTP 调渠道下单接口；模拟实现用于测试和开发模式，
// 替代以前散落在进程里的"测试模式"全局状态
type Gateway interface {
	CreatePayment(ctx context.Context, req *CreateRequest) (*PayResult, error)
}

// HTTPGateway 调用聚合渠道真实下单接口
type HTTPGateway struct {
	client *http.Client
}

func NewHTTPGateway() *HTTPGateway {
	return &HTTPGateway{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPGateway) CreatePayment(ctx context.Context, req *CreateRequest) (*PayResult, error) {
	switch req.Method {
	case MethodEpay:
		return g.createEpay(req)
	case MethodXunhupay:
		return g.createXunhupay(ctx, req)
	case MethodWechat:
		return g.createWechat(ctx, req)
	default:
		return nil, fmt.Errorf("不支持的支付渠道: %s", req.Method)
	}
}

// createEpay 易支付走页面跳转下单：拼好带签名的提交链接即可，无需服务端请求
func (g *HTTPGateway) createEpay(req *CreateRequest) (*PayResult, error) {
	params := map[string]string{
		"pid":          req.MerchantID,
		"type":         "alipay",
		"out_trade_no": req.OrderNo,
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Subject,
		"money":        FenToDecimalString(req.Amount),
	}
	params["sign"] = EpaySign(params, req.Secret)
	params["sign_type"] = "MD5"

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return &PayResult{
		PayURL: strings.TrimSuffix(req.GatewayURL, "/") + "/submit.php?" + values.Encode(),
	}, nil
}

// createXunhupay 虎皮椒走服务端下单，返回收银台链接和二维码
func (g *HTTPGateway) createXunhupay(ctx context.Context, req *CreateRequest) (*PayResult, error) {
	params := map[string]string{
		"version":        "1.1",
		"appid":          req.MerchantID,
		"trade_order_id": req.OrderNo,
		"total_fee":      FenToDecimalString(req.Amount),
		"title":          req.Subject,
		"time":           strconv.FormatInt(time.Now().Unix(), 10),
		"notify_url":     req.NotifyURL,
		"return_url":     req.ReturnURL,
		"nonce_str":      uuid.NewString(),
	}
	params["hash"] = XunhupaySign(params, req.Secret)

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.GatewayURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求虎皮椒下单接口失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		URL     string `json:"url"`
		QRCode  string `json:"url_qrcode"`
		OrderID string `json:"oderid"` // 渠道返回的字段名就是这个拼写
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("解析虎皮椒下单响应失败: %w", err)
	}
	if result.ErrCode != 0 {
		return nil, fmt.Errorf("虎皮椒下单失败: %s", result.ErrMsg)
	}

	return &PayResult{
		PayURL:  result.URL,
		QRCode:  result.QRCode,
		TradeNo: result.OrderID,
	}, nil
}

// createWechat 微信统一下单（Native），返回 code_url 作为二维码内容
func (g *HTTPGateway) createWechat(ctx context.Context, req *CreateRequest) (*PayResult, error) {
	params := map[string]string{
		"appid":            req.MerchantID,
		"mch_id":           req.MerchantID,
		"nonce_str":        strings.ReplaceAll(uuid.NewString(), "-", ""),
		"body":             req.Subject,
		"out_trade_no":     req.OrderNo,
		"total_fee":        strconv.FormatInt(req.Amount, 10),
		"spbill_create_ip": req.ClientIP,
		"notify_url":       req.NotifyURL,
		"trade_type":       "NATIVE",
	}
	params["sign"] = WechatSign(params, req.Secret)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.GatewayURL, strings.NewReader(EncodeXML(params)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "text/xml")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求微信统一下单失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	fields, err := DecodeXML(body)
	if err != nil {
		return nil, err
	}
	if fields["return_code"] != "SUCCESS" || fields["result_code"] != "SUCCESS" {
		return nil, fmt.Errorf("微信统一下单被拒: %s %s", fields["return_msg"], fields["err_code_des"])
	}

	return &PayResult{
		QRCode:  fields["code_url"],
		TradeNo: fields["prepay_id"],
	}, nil
}

// SimulatedGateway 模拟网关：不出网，确定性返回本地支付页
//
// 用于测试和开发模式。CreatePayment 记录在途交易，
// BuildNotifyParams 可以为任一渠道构造一笔签名正确的回调报文，
// 用来在本地打通完整的回调-结算链路
type SimulatedGateway struct {
	mu     sync.Mutex
	trades map[string]*CreateRequest // orderNo -> 下单请求
}

func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{trades: make(map[string]*CreateRequest)}
}

func (g *SimulatedGateway) CreatePayment(_ context.Context, req *CreateRequest) (*PayResult, error) {
	g.mu.Lock()
	g.trades[req.OrderNo] = req
	g.mu.Unlock()

	return &PayResult{
		PayURL:  "/simulated/pay?order_no=" + url.QueryEscape(req.OrderNo),
		TradeNo: "SIM" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
	}, nil
}

// BuildNotifyParams 为指定渠道构造一笔支付成功的回调参数（签名有效）
func (g *SimulatedGateway) BuildNotifyParams(method, orderNo, tradeNo string, amount int64, secret string) map[string]string {
	switch method {
	case MethodWechat:
		params := map[string]string{
			"return_code":    "SUCCESS",
			"result_code":    "SUCCESS",
			"out_trade_no":   orderNo,
			"transaction_id": tradeNo,
			"total_fee":      strconv.FormatInt(amount, 10),
		}
		params["sign"] = WechatSign(params, secret)
		return params
	case MethodEpay:
		params := map[string]string{
			"trade_no":     tradeNo,
			"out_trade_no": orderNo,
			"type":         "alipay",
			"money":        FenToDecimalString(amount),
			"trade_status": "TRADE_SUCCESS",
		}
		params["sign"] = EpaySign(params, secret)
		params["sign_type"] = "MD5"
		return params
	case MethodXunhupay:
		params := map[string]string{
			"trade_order_id":  tradeNo,
			"out_trade_order": orderNo,
			"total_fee":       FenToDecimalString(amount),
			"status":          "OD",
			"type":            "wechat",
		}
		params["hash"] = XunhupaySign(params, secret)
		return params
	default:
		return nil
	}
}
