package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// =============================================================================
// 令牌接口路径
// =============================================================================

//nolint:gosec // G101: 这些是 API 路径常量，不是凭据
const (
	// PathAppAccessTokenInternal 自建应用获取 app_access_token。
	PathAppAccessTokenInternal = "/open-apis/auth/v3/app_access_token/internal"

	// PathAppAccessToken 商店应用获取 app_access_token（需 app_ticket）。
	PathAppAccessToken = "/open-apis/auth/v3/app_access_token"

	// PathTenantAccessTokenInternal 自建应用获取 tenant_access_token。
	PathTenantAccessTokenInternal = "/open-apis/auth/v3/tenant_access_token/internal"

	// PathTenantAccessToken 商店应用获取 tenant_access_token（需 app_access_token）。
	PathTenantAccessToken = "/open-apis/auth/v3/tenant_access_token"

	// PathRefreshUserAccessToken 用 refresh_token 换取新的 user_access_token。
	PathRefreshUserAccessToken = "/open-apis/authen/v1/refresh_access_token"
)

// =============================================================================
// 获取器接口
// =============================================================================

// tokenFetcher 抽象令牌获取调用，便于测试替换。
// 实现负责把结果归一化为 fetchedToken，并按失败形态分类错误。
type tokenFetcher interface {
	// AppAccessToken 获取应用令牌。商店应用需要非空 appTicket。
	AppAccessToken(ctx context.Context, appTicket string) (*fetchedToken, error)

	// TenantAccessToken 获取租户令牌。
	// 自建应用两个参数均为空；商店应用需要有效的 appAccessToken 和 tenantKey。
	TenantAccessToken(ctx context.Context, appAccessToken, tenantKey string) (*fetchedToken, error)

	// RefreshUserAccessToken 用 refresh_token 换取新的用户令牌。
	RefreshUserAccessToken(ctx context.Context, appAccessToken, refreshToken string) (*fetchedToken, error)
}

// =============================================================================
// 平台实现
// =============================================================================

// platformFetcher 对接开放平台的令牌签发接口。
type platformFetcher struct {
	http      *httpClient
	appID     string
	appSecret string
	appKind   AppKind
	logger    *slog.Logger
}

func newPlatformFetcher(cfg *Config, http *httpClient, logger *slog.Logger) *platformFetcher {
	return &platformFetcher{
		http:      http,
		appID:     cfg.AppID,
		appSecret: cfg.AppSecret,
		appKind:   cfg.AppKind,
		logger:    logger,
	}
}

// 令牌接口不走通用信封：app/tenant 令牌平铺在顶层，user 令牌在 data 内。
type appTokenResponse struct {
	Code           int    `json:"code"`
	Msg            string `json:"msg"`
	AppAccessToken string `json:"app_access_token"`
	Expire         int64  `json:"expire"`
}

type tenantTokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

type userTokenResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	} `json:"data"`
}

// AppAccessToken 获取应用令牌。
func (f *platformFetcher) AppAccessToken(ctx context.Context, appTicket string) (*fetchedToken, error) {
	path := PathAppAccessTokenInternal
	body := map[string]string{
		"app_id":     f.appID,
		"app_secret": f.appSecret,
	}
	if f.appKind == AppKindMarketplace {
		if appTicket == "" {
			return nil, &TokenError{Kind: TokenKindApp, Err: ErrAppTicketEmpty}
		}
		path = PathAppAccessToken
		body["app_ticket"] = appTicket
	}

	var resp appTokenResponse
	if err := f.post(ctx, path, "", body, &resp); err != nil {
		return nil, wrapTokenError(TokenKindApp, err)
	}
	if resp.Code != 0 {
		return nil, &TokenError{Kind: TokenKindApp, Err: &APIError{Code: resp.Code, Msg: resp.Msg}}
	}
	if resp.AppAccessToken == "" {
		return nil, &TokenError{Kind: TokenKindApp, Err: &DecodeError{
			Err: errors.New("empty app_access_token in response"),
		}}
	}

	f.logger.DebugContext(ctx, "app access token obtained", "app_id", f.appID, "expire", resp.Expire)
	return &fetchedToken{
		value: resp.AppAccessToken,
		ttl:   time.Duration(resp.Expire) * time.Second,
	}, nil
}

// TenantAccessToken 获取租户令牌。
func (f *platformFetcher) TenantAccessToken(ctx context.Context, appAccessToken, tenantKey string) (*fetchedToken, error) {
	path := PathTenantAccessTokenInternal
	body := map[string]string{
		"app_id":     f.appID,
		"app_secret": f.appSecret,
	}
	if f.appKind == AppKindMarketplace {
		path = PathTenantAccessToken
		body = map[string]string{
			"app_access_token": appAccessToken,
			"tenant_key":       tenantKey,
		}
	}

	var resp tenantTokenResponse
	if err := f.post(ctx, path, "", body, &resp); err != nil {
		return nil, wrapTokenError(TokenKindTenant, err)
	}
	if resp.Code != 0 {
		return nil, &TokenError{Kind: TokenKindTenant, Err: &APIError{Code: resp.Code, Msg: resp.Msg}}
	}
	if resp.TenantAccessToken == "" {
		return nil, &TokenError{Kind: TokenKindTenant, Err: &DecodeError{
			Err: errors.New("empty tenant_access_token in response"),
		}}
	}

	f.logger.DebugContext(ctx, "tenant access token obtained",
		"app_id", f.appID, "tenant_key", tenantKey, "expire", resp.Expire)
	return &fetchedToken{
		value: resp.TenantAccessToken,
		ttl:   time.Duration(resp.Expire) * time.Second,
	}, nil
}

// RefreshUserAccessToken 换取新的用户令牌。
// 请求以 app_access_token 作为 Authorization 凭据。
func (f *platformFetcher) RefreshUserAccessToken(ctx context.Context, appAccessToken, refreshToken string) (*fetchedToken, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}

	var resp userTokenResponse
	if err := f.post(ctx, PathRefreshUserAccessToken, appAccessToken, body, &resp); err != nil {
		return nil, wrapTokenError(TokenKindUser, err)
	}
	if resp.Code != 0 {
		return nil, &TokenError{Kind: TokenKindUser, Err: &APIError{Code: resp.Code, Msg: resp.Msg}}
	}
	if resp.Data.AccessToken == "" {
		return nil, &TokenError{Kind: TokenKindUser, Err: &DecodeError{
			Err: errors.New("empty access_token in response"),
		}}
	}

	f.logger.DebugContext(ctx, "user access token refreshed", "app_id", f.appID)
	return &fetchedToken{
		value:        resp.Data.AccessToken,
		ttl:          time.Duration(resp.Data.ExpiresIn) * time.Second,
		refreshToken: resp.Data.RefreshToken,
	}, nil
}

// post 发送一次令牌接口请求并解析响应体。
// 返回的错误未绑定 TokenKind，由调用方通过 wrapTokenError 补充。
func (f *platformFetcher) post(ctx context.Context, path, authorization string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("openapi: marshal token request failed: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	if authorization != "" {
		header.Set("Authorization", "Bearer "+authorization)
	}

	raw, err := f.http.do(ctx, http.MethodPost, path, header, bytes.NewReader(data))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw.Body, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// wrapTokenError 把获取过程中的底层错误包装为 TokenError。
// 传输层失败视为临时性（可重试）；解码失败和平台拒绝为永久性。
func wrapTokenError(kind TokenKind, err error) *TokenError {
	var te *TransportError
	transient := errors.As(err, &te)
	return &TokenError{Kind: kind, Err: err, Transient: transient}
}
