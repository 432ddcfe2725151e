package store

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"
)

// CachedAtHeader 是写入时间戳的自定义头。底层存储不透传写入时间，
// 因此由 Agent 在写入前盖章，读取时再解析；该头只做内部记账，
// 不会出现在返回给客户端的响应里。
const CachedAtHeader = "X-Cached-At"

// Key 唯一定位一个缓存条目（方法 + 绝对 URL）。只有只读方法会被写入。
type Key struct {
	Method string
	URL    string
}

// String 返回 "<method> <url>" 形式的键文本，供日志与持久化编码复用。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// Response 表示一条存储的响应：状态码、头部与完整正文。
// 写入永远是整条覆盖，不存在部分更新。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Clone 深拷贝响应，避免调用方与存储共享底层切片。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := &Response{
		Status: r.Status,
		Header: make(http.Header, len(r.Header)),
		Body:   append([]byte(nil), r.Body...),
	}
	for key, values := range r.Header {
		cloned.Header[key] = append([]string(nil), values...)
	}
	return cloned
}

// Stamp 以毫秒时间戳盖章写入时间。
func (r *Response) Stamp(t time.Time) {
	if r.Header == nil {
		r.Header = http.Header{}
	}
	r.Header.Set(CachedAtHeader, strconv.FormatInt(t.UnixMilli(), 10))
}

// CachedAt 解析写入时间戳；缺失或非法时返回零值，表示最大程度陈旧。
func (r *Response) CachedAt() time.Time {
	raw := r.Header.Get(CachedAtHeader)
	if raw == "" {
		return time.Time{}
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(millis)
}

// FreshWithin 判断条目在给定时刻是否仍处于新鲜窗口内。
// 缺失时间戳视为无限陈旧，强制触发再验证。
func (r *Response) FreshWithin(now time.Time, window time.Duration) bool {
	cachedAt := r.CachedAt()
	if cachedAt.IsZero() {
		return false
	}
	return now.Sub(cachedAt) <= window
}

// Store 负责管理按代际命名空间划分的响应键值存储。
// 单条目读写假定原子；不提供跨条目事务，写入语义为 last-writer-wins。
type Store interface {
	// Get 返回指定代际下的条目。不存在时返回 ErrNotFound。
	Get(ctx context.Context, version string, key Key) (*Response, error)

	// Put 整条覆盖写入条目。调用方负责只写入成功响应并提前盖章。
	Put(ctx context.Context, version string, key Key, resp *Response) error

	// Delete 删除单个条目，不存在时不视为错误。
	Delete(ctx context.Context, version string, key Key) error

	// Keys 枚举指定代际下的全部键，供诊断与测试使用。
	Keys(ctx context.Context, version string) ([]Key, error)

	// Versions 枚举当前存在的全部代际标签。
	Versions(ctx context.Context) ([]string, error)

	// DeleteVersion 整体删除一个代际及其全部条目。
	DeleteVersion(ctx context.Context, version string) error

	// Close 释放底层资源。
	Close() error
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")
