package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// PrecacheMode 描述预缓存填充发生的生命周期阶段及其失败语义。
type PrecacheMode string

const (
	// PrecacheModeInstall 在 install 阶段整体填充，任一资源失败即中止安装。
	PrecacheModeInstall PrecacheMode = "install"
	// PrecacheModeActivate 在 activate 完成后后台尽力填充，失败只记日志。
	PrecacheModeActivate PrecacheMode = "activate"
)

// GlobalConfig 描述全局运行时行为，Agent 与 HTTP 层共享同一份参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// Origin 是静态站点源站地址，所有回源请求都指向它。
	Origin string `mapstructure:"Origin"`
	// Version 是构建注入的缓存代际标签（内容哈希或手工版本号），
	// 更换它是淘汰旧缓存的唯一部署手段。
	Version string `mapstructure:"Version"`

	StoreBackend string `mapstructure:"StoreBackend"`
	StoragePath  string `mapstructure:"StoragePath"`

	MaxAge          Duration `mapstructure:"MaxAge"`
	FragmentTimeout Duration `mapstructure:"FragmentTimeout"`
	FragmentMarker  string   `mapstructure:"FragmentMarker"`
	PrecacheMode    string   `mapstructure:"PrecacheMode"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// LocaleConfig 描述一个语言子树的预缓存清单，路径相对站点根。
type LocaleConfig struct {
	Name  string   `mapstructure:"Name"`
	Paths []string `mapstructure:"Paths"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Precache []string       `mapstructure:"Precache"`
	Locales  []LocaleConfig `mapstructure:"Locale"`
}

// ExpandPrecache 将默认清单与各语言子树合并为最终的有序预缓存列表，
// 重复路径只保留首次出现，保证填充顺序可预测。
func (c *Config) ExpandPrecache() []string {
	seen := make(map[string]struct{})
	var out []string
	appendPath := func(p string) {
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	for _, p := range c.Precache {
		appendPath(p)
	}
	for _, locale := range c.Locales {
		prefix := "/" + strings.Trim(locale.Name, "/")
		for _, p := range locale.Paths {
			appendPath(prefix + ensureLeadingSlash(p))
		}
	}
	return out
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Mode 返回归一化后的预缓存模式。
func (g GlobalConfig) Mode() PrecacheMode {
	if strings.EqualFold(strings.TrimSpace(g.PrecacheMode), string(PrecacheModeInstall)) {
		return PrecacheModeInstall
	}
	return PrecacheModeActivate
}
