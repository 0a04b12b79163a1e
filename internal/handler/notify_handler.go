package handler

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"blogshop/internal/model"
	"blogshop/internal/payment"
	"blogshop/internal/service"

	"github.com/gin-gonic/gin"
)

// 回调报文大小上限，防止恶意大包
const maxNotifyBodySize = 64 * 1024

// Settler 订单结算入口
type Settler interface {
	Settle(ctx context.Context, n *payment.Notification) (*service.SettleResult, error)
}

// SecretSource 渠道验签密钥来源
type SecretSource interface {
	Secret(ctx context.Context, method string) (string, error)
}

// NotifyAuditor 回调审计落库
type NotifyAuditor interface {
	Create(ctx context.Context, lg *model.NotifyLog) error
}

// NotifyHandler 支付回调入口
//
// 回调来自不可信网络，进入结算前必须通过渠道验签；
// 验签失败一律不触发结算。无论结论如何 HTTP 状态都是 200，
// 是否让渠道重试由应答报文体表达
type NotifyHandler struct {
	settler       Settler
	secrets       SecretSource
	auditor       NotifyAuditor
	settleTimeout time.Duration
}

func NewNotifyHandler(settler Settler, secrets SecretSource, auditor NotifyAuditor, settleTimeout time.Duration) *NotifyHandler {
	if settleTimeout <= 0 {
		settleTimeout = 10 * time.Second
	}
	return &NotifyHandler{
		settler:       settler,
		secrets:       secrets,
		auditor:       auditor,
		settleTimeout: settleTimeout,
	}
}

// WechatNotify 微信支付回调
// POST /notify/wechat（XML 报文体）
func (h *NotifyHandler) WechatNotify(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotifyBodySize))
	if err != nil {
		c.String(http.StatusOK, payment.WechatAckFail("读取报文失败"))
		return
	}

	params, err := payment.DecodeXML(body)
	if err != nil {
		h.audit(c, payment.MethodWechat, "", string(body), model.NotifyVerdictBadPayload)
		c.String(http.StatusOK, payment.WechatAckFail("报文格式错误"))
		return
	}

	_, accepted := h.process(c, payment.MethodWechat, params, string(body))
	if accepted {
		c.String(http.StatusOK, payment.WechatAckSuccess())
	} else {
		c.String(http.StatusOK, payment.WechatAckFail("处理失败"))
	}
}

// EpayNotify 易支付回调
// GET/POST /notify/epay（表单参数）
func (h *NotifyHandler) EpayNotify(c *gin.Context) {
	params, raw := collectFormParams(c)
	_, accepted := h.process(c, payment.MethodEpay, params, raw)
	if accepted {
		c.String(http.StatusOK, "success")
	} else {
		c.String(http.StatusOK, "fail")
	}
}

// XunhupayNotify 虎皮椒回调
// GET/POST /notify/xunhupay（表单参数）
func (h *NotifyHandler) XunhupayNotify(c *gin.Context) {
	params, raw := collectFormParams(c)
	_, accepted := h.process(c, payment.MethodXunhupay, params, raw)
	if accepted {
		c.String(http.StatusOK, "success")
	} else {
		c.String(http.StatusOK, "fail")
	}
}

// process 验签并结算，返回审计结论与渠道侧是否应确认
func (h *NotifyHandler) process(c *gin.Context, method string, params map[string]string, raw string) (string, bool) {
	verifier, ok := payment.VerifierFor(method)
	if !ok {
		h.audit(c, method, "", raw, model.NotifyVerdictError)
		return model.NotifyVerdictError, false
	}

	secret, err := h.secrets.Secret(c.Request.Context(), method)
	if err != nil {
		log.Printf("回调处理失败: 渠道=%s, 获取密钥失败: %v", method, err)
		h.audit(c, method, "", raw, model.NotifyVerdictError)
		return model.NotifyVerdictError, false
	}

	n, err := verifier.Verify(params, secret)
	if err != nil {
		verdict := classifyVerifyError(err)
		log.Printf("回调验签不通过: 渠道=%s, 结论=%s, err=%v, ip=%s", method, verdict, err, c.ClientIP())
		h.audit(c, method, payment.OrderNoHint(method, params), raw, verdict)
		return verdict, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.settleTimeout)
	defer cancel()

	result, err := h.settler.Settle(ctx, n)
	if err != nil {
		log.Printf("结算执行失败: orderNo=%s, 渠道=%s, err=%v", n.OrderNo, method, err)
		h.audit(c, method, n.OrderNo, raw, model.NotifyVerdictError)
		return model.NotifyVerdictError, false
	}

	verdict := classifySettleResult(result)
	h.audit(c, method, n.OrderNo, raw, verdict)
	return verdict, result.Accepted()
}

func (h *NotifyHandler) audit(c *gin.Context, method, orderNo, payload, verdict string) {
	err := h.auditor.Create(c.Request.Context(), &model.NotifyLog{
		Method:  method,
		OrderNo: orderNo,
		Payload: payload,
		Verdict: verdict,
	})
	if err != nil {
		// 审计失败不影响应答
		log.Printf("回调审计落库失败: 渠道=%s, orderNo=%s, err=%v", method, orderNo, err)
	}
}

func classifyVerifyError(err error) string {
	switch {
	case errors.Is(err, payment.ErrSignMissing), errors.Is(err, payment.ErrSignMismatch):
		return model.NotifyVerdictBadSign
	case errors.Is(err, payment.ErrTradeNotPaid):
		return model.NotifyVerdictRejected
	default:
		return model.NotifyVerdictBadPayload
	}
}

func classifySettleResult(r *service.SettleResult) string {
	switch r.Code {
	case service.SettleOK:
		return model.NotifyVerdictSettled
	case service.SettleAlready:
		return model.NotifyVerdictReplayed
	default:
		return model.NotifyVerdictRejected
	}
}

// collectFormParams 合并查询串与 POST 表单参数，返回参数表和审计原文
func collectFormParams(c *gin.Context) (map[string]string, string) {
	params := make(map[string]string)
	merged := url.Values{}

	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
			merged[k] = vs
		}
	}

	if c.Request.Method == http.MethodPost {
		if err := c.Request.ParseForm(); err == nil {
			for k, vs := range c.Request.PostForm {
				if len(vs) > 0 {
					params[k] = vs[0]
					merged[k] = vs
				}
			}
		}
	}

	return params, merged.Encode()
}
