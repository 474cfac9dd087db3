package openapi

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"maps"
	"net/url"
	"os"
	"strings"
	"time"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultTimeout 默认请求超时时间。
	DefaultTimeout = 15 * time.Second

	// DefaultLocalCacheSize 本地令牌缓存默认容量。
	// 自建应用只有个位数条目；商店应用按活跃租户数增长，超出容量按 LRU 淘汰。
	DefaultLocalCacheSize = 256

	// DefaultPreheatInterval 令牌预热检查周期。
	DefaultPreheatInterval = time.Minute
)

// =============================================================================
// 应用类型
// =============================================================================

// AppKind 表示应用的发行形态。
type AppKind string

const (
	// AppKindSelfBuilt 自建应用：单租户，凭据可直接换取 app/tenant 令牌。
	AppKindSelfBuilt AppKind = "self_built"

	// AppKindMarketplace 商店应用：多租户，app 令牌需要平台推送的
	// app_ticket，tenant 令牌需要先持有 app 令牌（两跳）。
	AppKindMarketplace AppKind = "marketplace"
)

// valid 判断 AppKind 是否为已知类型。
func (k AppKind) valid() bool {
	return k == AppKindSelfBuilt || k == AppKindMarketplace
}

// =============================================================================
// Config 配置结构
// =============================================================================

// Config 定义开放平台客户端配置。
// 凭据字段在构造时拷入客户端，之后不再读取 Config，运行期修改无效。
type Config struct {
	// AppID 应用 ID（必填）。
	AppID string `json:"app_id"`

	// AppSecret 应用密钥（必填）。
	AppSecret string `json:"app_secret"`

	// AppKind 应用类型（必填）：self_built 或 marketplace。
	AppKind AppKind `json:"app_kind"`

	// BaseURL 开放平台地址（必填）。
	// 必须使用 https:// 前缀，除非显式设置 AllowInsecure = true。
	// 例如：https://open.example.com
	BaseURL string `json:"base_url"`

	// AllowInsecure 允许使用 http:// 非加密连接。
	// 设计决策: 默认强制 HTTPS——请求携带访问令牌和应用凭据，
	// 明文 HTTP 会暴露这些敏感信息。仅在开发/测试环境中启用此选项。
	AllowInsecure bool `json:"allow_insecure,omitempty"`

	// DefaultHeaders 附加到每个请求的默认头，单次请求的同名头优先。
	DefaultHeaders map[string]string `json:"default_headers,omitempty"`

	// Timeout 单次请求超时时间，可被 WithRequestTimeout 按请求覆盖。
	// 默认 15 秒。
	Timeout time.Duration `json:"timeout,omitempty"`

	// DisableTokenCache 关闭令牌缓存。
	// 关闭后每次请求现场获取令牌，但并发的同键获取仍会合并为一次。
	DisableTokenCache bool `json:"disable_token_cache,omitempty"`

	// LocalCacheSize 本地令牌缓存容量。默认 256。
	LocalCacheSize int `json:"local_cache_size,omitempty"`

	// EnablePreheat 启用后台令牌预热：周期性刷新临近过期且近期使用过的条目。
	EnablePreheat bool `json:"enable_preheat,omitempty"`

	// PreheatInterval 预热检查周期。默认 1 分钟。
	PreheatInterval time.Duration `json:"preheat_interval,omitempty"`

	// TLS TLS 配置。
	// 为 nil 时使用默认配置（启用证书验证）。
	TLS *TLSConfig `json:"tls,omitempty"`
}

// TLSConfig TLS 配置。
type TLSConfig struct {
	// InsecureSkipVerify 是否跳过证书验证。
	// 仅用于开发/测试环境，生产环境请勿启用。
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// RootCAFile CA 证书文件路径。
	RootCAFile string `json:"root_ca_file,omitempty"`

	// CertFile 客户端证书文件路径。
	CertFile string `json:"cert_file,omitempty"`

	// KeyFile 客户端密钥文件路径。
	KeyFile string `json:"key_file,omitempty"`
}

// Validate 验证配置有效性。
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}

	if strings.TrimSpace(c.AppID) == "" {
		return ErrMissingAppID
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return ErrMissingAppSecret
	}
	if !c.AppKind.valid() {
		return ErrInvalidAppKind
	}

	if err := c.validateBaseURL(); err != nil {
		return err
	}

	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if c.LocalCacheSize < 0 {
		return ErrInvalidCacheSize
	}

	return nil
}

// validateBaseURL 校验 BaseURL 格式和协议安全性。
func (c *Config) validateBaseURL() error {
	baseURL := strings.TrimSpace(c.BaseURL)
	if baseURL == "" {
		return ErrMissingBaseURL
	}

	// 设计决策: 使用 net/url 严格校验 BaseURL 格式，确保包含有效的 scheme
	// 和主机名。无 scheme 的地址在拼接 API 路径后无法正确请求，
	// 通过 fail-fast 在配置阶段暴露问题，而非在运行期请求失败。
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidBaseURL
	}

	if !c.AllowInsecure && u.Scheme != "https" {
		return ErrInsecureBaseURL
	}

	return nil
}

// ApplyDefaults 应用默认值。
func (c *Config) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.LocalCacheSize == 0 {
		c.LocalCacheSize = DefaultLocalCacheSize
	}
	if c.PreheatInterval == 0 {
		c.PreheatInterval = DefaultPreheatInterval
	}
	// BaseURL 统一去掉尾部斜杠，路径拼接时以 "/" 开头的 path 为准
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// Clone 创建配置的深拷贝。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := *c
	if c.DefaultHeaders != nil {
		clone.DefaultHeaders = make(map[string]string, len(c.DefaultHeaders))
		maps.Copy(clone.DefaultHeaders, c.DefaultHeaders)
	}
	if c.TLS != nil {
		tlsCopy := *c.TLS
		clone.TLS = &tlsCopy
	}
	return &clone
}

// BuildTLSConfig 构建 TLS 配置。
func (c *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	if c == nil {
		return nil, nil
	}

	//nolint:gosec // G402: InsecureSkipVerify 由用户配置控制，doc.go 中有安全警告
	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	// 加载 CA 证书
	if c.RootCAFile != "" {
		caCert, err := os.ReadFile(c.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("openapi: failed to read CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("openapi: failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	// 加载客户端证书
	if c.CertFile != "" && c.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("openapi: failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
