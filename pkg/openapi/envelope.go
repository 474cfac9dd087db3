package openapi

import (
	"bytes"
	"encoding/json"
	"errors"
)

// =============================================================================
// 响应信封
// =============================================================================

// Envelope 是开放平台统一的响应信封：{"code":0,"msg":"ok","data":{...}}。
// code 为 0 表示业务成功；非零时 data 不保证存在。
type Envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *T     `json:"data,omitempty"`
}

// decodeEnvelope 解析信封并提取业务载荷。
//
//   - 响应体不是合法 JSON → *DecodeError
//   - code 非零 → *APIError（携带 HTTP 状态与 request_id）
//   - code 为零但 requireData 且 data 缺失 → *DecodeError
//
// 无载荷接口（requireData=false）code 为零即成功，返回值可能为 nil。
func decodeEnvelope[T any](raw *RawResponse, requireData bool) (*T, error) {
	var env Envelope[T]
	if err := json.Unmarshal(raw.Body, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}

	if env.Code != 0 {
		return nil, &APIError{
			HTTPStatus: raw.StatusCode,
			Code:       env.Code,
			Msg:        env.Msg,
			RequestID:  raw.RequestID,
		}
	}

	if requireData && env.Data == nil {
		return nil, &DecodeError{Err: errors.New("missing data field in response envelope")}
	}
	return env.Data, nil
}

// peekEnvelopeError 只看信封头部的 code/msg，不解析 data。
// 供 Do 在返回原始响应前识别平台业务错误（含令牌失效码）。
//
// 以响应体首个非空白字节是否为 '{' 判断信封，不依赖 Content-Type：
// 错误信封可能带着缺失或非 JSON 的 Content-Type 回来，而媒体下载的
// 响应体不会以 '{' 开头。
func peekEnvelopeError(raw *RawResponse) *APIError {
	body := bytes.TrimLeft(raw.Body, " \t\r\n")
	if len(body) == 0 || body[0] != '{' {
		return nil
	}

	var head struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		// 头部都解不出来交给上层的完整解码路径报错
		return nil
	}
	if head.Code == 0 {
		return nil
	}
	return &APIError{
		HTTPStatus: raw.StatusCode,
		Code:       head.Code,
		Msg:        head.Msg,
		RequestID:  raw.RequestID,
	}
}
