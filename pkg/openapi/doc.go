// Package openapi 提供开放平台 API 客户端的传输核心：
// 应用凭据与访问令牌管理、请求构建与分发、响应信封解码。
//
// 核心职责：
//   - 令牌管理：app/tenant/user 三类令牌的获取、两级缓存（进程内 LRU +
//     可选 Redis 共享缓存）、安全边际提前过期、同键并发合并（singleflight）、
//     被平台拒绝后的定向失效、可选的后台预热
//   - 请求分发：路径模板替换、有序查询参数、JSON/原始请求体、
//     请求头合并、超时控制
//   - 信封解码：统一的 {code, msg, data} 响应结构与类型化错误
//
// 基本用法：
//
//	client, err := openapi.NewClient(&openapi.Config{
//	    AppID:     "cli_xxx",
//	    AppSecret: "secret",
//	    AppKind:   openapi.AppKindSelfBuilt,
//	    BaseURL:   "https://open.example.com",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	type message struct {
//	    MessageID string `json:"message_id"`
//	}
//	msg, err := openapi.Execute[message](ctx, client, &openapi.RequestSpec{
//	    Method:             http.MethodGet,
//	    PathTemplate:       "/open-apis/im/v1/messages/{message_id}",
//	    PathParams:         map[string]string{"message_id": "om_xxx"},
//	    AcceptedTokenKinds: []openapi.TokenKind{openapi.TokenKindTenant},
//	})
//
// 商店应用（AppKindMarketplace）需要先通过 SetAppTicket 注入平台推送的
// app_ticket，租户令牌请求需携带 WithTenantKey 指定目标租户。
//
// 错误处理：所有失败归入五类——ValidationError（请求未发出）、
// TokenError（令牌获取失败）、TransportError（网络失败）、
// APIError（平台业务拒绝）、DecodeError（响应解析失败）。
// 核心从不自动重试；可用 IsRetryable 搭配 Retry 在调用侧按需重试。
//
// 安全说明：BaseURL 默认强制 https://，请求携带应用凭据与访问令牌；
// 仅在开发/测试环境通过 AllowInsecure 放行 http://。
package openapi
