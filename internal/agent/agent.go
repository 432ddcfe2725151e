package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/minihongo/minihongo-agent/internal/config"
	"github.com/minihongo/minihongo-agent/internal/store"
)

// Strategy 标识一次请求命中的缓存策略，主要用于日志与诊断输出。
type Strategy string

const (
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
	StrategyNetworkFirst         Strategy = "network-first"
)

// Timer 返回一个到期通道与取消函数，注入它使测试无需真实等待。
type Timer func(d time.Duration) (<-chan time.Time, func() bool)

// ErrPassThrough 表示该请求不在 Agent 职责范围内（非只读方法），
// 调用方应原样放行给源站。
var ErrPassThrough = errors.New("request not handled by cache agent")

// Options 汇总构造 Agent 所需的全部显式配置，取代隐式全局状态。
type Options struct {
	// Version 是当前代际标签，同时充当存储命名空间。
	Version string
	// MaxAge 是 stale-while-revalidate 的新鲜窗口，默认 60s。
	MaxAge time.Duration
	// FragmentTimeout 是 network-first 的竞速时限，默认 2s。
	FragmentTimeout time.Duration
	// FragmentMarker 是片段路径的标记段，默认 "/_f/"。
	FragmentMarker string
	// Precache 是构建期产出的有序预缓存清单（站点相对路径）。
	Precache []string
	// PrecacheMode 决定预缓存发生在 install（整体可中止）还是
	// activate（后台尽力而为）阶段。
	PrecacheMode config.PrecacheMode
	// Origin 是源站基地址，所有回源请求相对它解析。
	Origin *url.URL

	Store  store.Store
	Client *http.Client
	Logger *logrus.Logger

	// Clock/Timer 仅测试需要覆盖，缺省为真实时钟与 time.Timer。
	Clock func() time.Time
	Timer Timer
}

// Agent 是缓存代理本体：一次构造，所有并发请求处理共享同一实例。
type Agent struct {
	version         string
	maxAge          time.Duration
	fragmentTimeout time.Duration
	fragmentMarker  string
	precache        []string
	precacheMode    config.PrecacheMode
	origin          *url.URL

	store  store.Store
	client *http.Client
	logger *logrus.Logger
	clock  func() time.Time
	timer  Timer

	mu    sync.Mutex
	state State

	// revalidate 合并同一键上并发触发的后台再验证，避免重复回源。
	revalidate singleflight.Group
	background sync.WaitGroup
}

// Result 是一次 Handle 的结果及其来源描述，供边界层写日志与诊断头。
type Result struct {
	Response *store.Response
	Strategy Strategy
	// CacheHit 表示响应正文来自存储而非本次网络往返。
	CacheHit bool
	// Stale 表示命中的条目已超出新鲜窗口（SWR 后台刷新中，或降级路径）。
	Stale bool
	// Offline 表示网络与缓存均不可用，返回的是合成的离线响应。
	Offline bool
}

// New 校验并归一化 Options，返回处于 installing 之前状态的 Agent。
func New(opts Options) (*Agent, error) {
	if opts.Version == "" {
		return nil, errors.New("version tag is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin is required")
	}

	if opts.MaxAge <= 0 {
		opts.MaxAge = time.Minute
	}
	if opts.FragmentTimeout <= 0 {
		opts.FragmentTimeout = 2 * time.Second
	}
	if opts.FragmentMarker == "" {
		opts.FragmentMarker = "/_f/"
	}
	if opts.PrecacheMode == "" {
		opts.PrecacheMode = config.PrecacheModeActivate
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		opts.Logger = logger
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Timer == nil {
		opts.Timer = defaultTimer
	}

	return &Agent{
		version:         opts.Version,
		maxAge:          opts.MaxAge,
		fragmentTimeout: opts.FragmentTimeout,
		fragmentMarker:  opts.FragmentMarker,
		precache:        append([]string(nil), opts.Precache...),
		precacheMode:    opts.PrecacheMode,
		origin:          opts.Origin,
		store:           opts.Store,
		client:          opts.Client,
		logger:          opts.Logger,
		clock:           opts.Clock,
		timer:           opts.Timer,
		state:           StateNew,
	}, nil
}

// defaultTimer 基于 time.Timer 实现 Timer 抽象。
func defaultTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

// Handle 按 URL 形态将只读请求路由到对应策略执行器。
// 非 GET/HEAD 请求返回 ErrPassThrough，绝不进入缓存路径。
func (a *Agent) Handle(ctx context.Context, req *http.Request) (*Result, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return nil, ErrPassThrough
	}

	key := a.keyFor(req)
	if a.isFragment(req.URL.Path) {
		return a.networkFirst(ctx, key)
	}
	return a.staleWhileRevalidate(ctx, key)
}

// keyFor 构造条目键。HEAD 复用 GET 键：存储里只存在 GET 条目，
// 边界层负责在 HEAD 时省略正文。
func (a *Agent) keyFor(req *http.Request) store.Key {
	return store.Key{
		Method: http.MethodGet,
		URL:    a.resolve(req.URL.Path, req.URL.RawQuery),
	}
}

// isFragment 判断路径是否带片段标记段。
func (a *Agent) isFragment(path string) bool {
	return strings.Contains(path, a.fragmentMarker)
}

// resolve 将站点相对路径解析为源站绝对 URL。
func (a *Agent) resolve(path, rawQuery string) string {
	relative := &url.URL{Path: path, RawQuery: rawQuery}
	return a.origin.ResolveReference(relative).String()
}

// fetch 执行一次回源 GET，并将响应完整读入为存储格式。
func (a *Agent) fetch(ctx context.Context, rawURL string) (*store.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read origin body: %w", err)
	}

	return &store.Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// lookup 读取当前代际的条目；存储故障按未命中处理并降级为纯网络行为。
func (a *Agent) lookup(ctx context.Context, key store.Key) *store.Response {
	cached, err := a.store.Get(ctx, a.version, key)
	switch {
	case err == nil:
		return cached
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "cache_get_failed",
			"version": a.version,
			"url":     key.URL,
		}).Warn("store read failed, treating as miss")
		return nil
	}
}

// stampAndStore 为成功响应盖章并整条覆盖写入。写失败只记日志：
// 响应照常返回，缓存覆盖率下降但请求路径不受影响。
func (a *Agent) stampAndStore(ctx context.Context, key store.Key, resp *store.Response) {
	stored := resp.Clone()
	stored.Stamp(a.clock())
	if err := a.store.Put(ctx, a.version, key, stored); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "cache_put_failed",
			"version": a.version,
			"url":     key.URL,
		}).Warn("store write failed")
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// Version 返回当前代际标签。
func (a *Agent) Version() string {
	return a.version
}

// PrecacheSize 返回清单长度，供诊断接口输出。
func (a *Agent) PrecacheSize() int {
	return len(a.precache)
}

// Settings 输出策略参数快照，供诊断接口输出。
func (a *Agent) Settings() map[string]interface{} {
	return map[string]interface{}{
		"max_age_ms":          a.maxAge.Milliseconds(),
		"fragment_timeout_ms": a.fragmentTimeout.Milliseconds(),
		"fragment_marker":     a.fragmentMarker,
		"precache_mode":       string(a.precacheMode),
	}
}

// StoreVersions 枚举存储中现存的代际标签。
func (a *Agent) StoreVersions(ctx context.Context) ([]string, error) {
	return a.store.Versions(ctx)
}

// Close 等待后台再验证与预缓存任务收尾。不关闭共享的 Store。
func (a *Agent) Close() {
	a.background.Wait()
}
