package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"memory":  {},
	"leveldb": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := &c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if err := validateVersionTag(g.Version); err != nil {
		return fmt.Errorf("Global.Version: %w", err)
	}

	backend := normalizeBackend(g.StoreBackend)
	if _, ok := supportedBackends[backend]; !ok {
		return newFieldError("Global.StoreBackend", "仅支持 memory|leveldb")
	}
	g.StoreBackend = backend
	if backend == "leveldb" && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "leveldb 后端必须指定存储目录")
	}

	if g.MaxAge.DurationValue() <= 0 {
		return newFieldError("Global.MaxAge", "必须大于 0")
	}
	if g.FragmentTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FragmentTimeout", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if marker := strings.TrimSpace(g.FragmentMarker); marker == "" || strings.Contains(marker, " ") {
		return newFieldError("Global.FragmentMarker", "不能为空或包含空格")
	} else {
		g.FragmentMarker = marker
	}

	mode := strings.ToLower(strings.TrimSpace(g.PrecacheMode))
	switch PrecacheMode(mode) {
	case PrecacheModeInstall, PrecacheModeActivate:
		g.PrecacheMode = mode
	default:
		return newFieldError("Global.PrecacheMode", "仅支持 install|activate")
	}

	for _, p := range c.Precache {
		if err := validatePrecachePath(p); err != nil {
			return fmt.Errorf("Precache[%s]: %w", p, err)
		}
	}

	seenLocales := map[string]struct{}{}
	for _, locale := range c.Locales {
		name := strings.Trim(strings.TrimSpace(locale.Name), "/")
		if name == "" {
			return newFieldError(localeField("", "Name"), "不能为空")
		}
		if _, exists := seenLocales[name]; exists {
			return newFieldError(localeField(name, "Name"), "重复")
		}
		seenLocales[name] = struct{}{}
		for _, p := range locale.Paths {
			if err := validatePrecachePath(ensureLeadingSlash(p)); err != nil {
				return fmt.Errorf("%s: %w", localeField(name, "Paths"), err)
			}
		}
	}

	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少源站地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，源站: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("源站缺少 Host: %s", raw)
	}
	return nil
}

// validateVersionTag 保证代际标签可以安全充当存储命名空间。
func validateVersionTag(tag string) error {
	if strings.TrimSpace(tag) == "" {
		return errors.New("不能为空，需由构建注入内容哈希或版本号")
	}
	if strings.ContainsAny(tag, " /\x00") {
		return errors.New("不允许包含空格、斜杠或 NUL")
	}
	return nil
}

func validatePrecachePath(p string) error {
	if p == "" {
		return errors.New("路径不能为空")
	}
	if !strings.HasPrefix(p, "/") {
		return errors.New("路径必须以 / 开头")
	}
	if strings.Contains(p, " ") {
		return errors.New("路径不允许包含空格")
	}
	return nil
}
