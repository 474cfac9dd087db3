package openapi

import (
	"fmt"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// ConfigFormat 表示配置数据格式。
type ConfigFormat string

const (
	// FormatJSON JSON 格式。
	FormatJSON ConfigFormat = "json"

	// FormatYAML YAML 格式。
	FormatYAML ConfigFormat = "yaml"
)

// LoadConfig 从字节数据解析 Config。
// 需要显式指定格式，适用于 K8s ConfigMap、密钥管理系统等场景；
// 文件读取与变更监听由调用方负责，本库只消费字节。
//
// 时长字段（timeout、preheat_interval）接受 Go 时长字符串，如 "30s"、"2m"。
// 解析结果未做校验，交由 NewClient 统一 Validate。
func LoadConfig(data []byte, format ConfigFormat) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatJSON:
		parser = json.Parser()
	case FormatYAML:
		parser = yaml.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), parser); err != nil {
		return nil, fmt.Errorf("openapi: parse config failed: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("openapi: unmarshal config failed: %w", err)
	}
	return &cfg, nil
}
