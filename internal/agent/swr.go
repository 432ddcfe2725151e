package agent

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/minihongo/minihongo-agent/internal/store"
)

// staleWhileRevalidate 面向整页资源：延迟优先于新鲜度。
//
// 新鲜命中不产生任何网络活动；过期命中立即返回旧条目并在后台刷新；
// 未命中时调用方等待一次网络往返，失败原样上抛（没有可回退的内容）。
func (a *Agent) staleWhileRevalidate(ctx context.Context, key store.Key) (*Result, error) {
	cached := a.lookup(ctx, key)
	now := a.clock()

	if cached != nil && cached.FreshWithin(now, a.maxAge) {
		return &Result{
			Response: cached,
			Strategy: StrategyStaleWhileRevalidate,
			CacheHit: true,
		}, nil
	}

	if cached != nil {
		a.revalidateInBackground(key)
		return &Result{
			Response: cached,
			Strategy: StrategyStaleWhileRevalidate,
			CacheHit: true,
			Stale:    true,
		}, nil
	}

	resp, err := a.fetch(ctx, key.URL)
	if err != nil {
		return nil, err
	}
	if isSuccess(resp.Status) {
		a.stampAndStore(ctx, key, resp)
	}
	return &Result{
		Response: resp,
		Strategy: StrategyStaleWhileRevalidate,
	}, nil
}

// revalidateInBackground 对一个键发起 fire-and-forget 刷新。调用方此刻
// 已经拿到旧响应，因此刷新挂在独立上下文上，错误一律吞掉；同一键的
// 并发刷新经 singleflight 合并为一次回源。
func (a *Agent) revalidateInBackground(key store.Key) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		_, _, _ = a.revalidate.Do(key.String(), func() (interface{}, error) {
			ctx := context.Background()
			resp, err := a.fetch(ctx, key.URL)
			if err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{
					"action":  "revalidate_failed",
					"version": a.version,
					"url":     key.URL,
				}).Debug("background revalidation failed, keeping stale entry")
				return nil, nil
			}
			if isSuccess(resp.Status) {
				a.stampAndStore(ctx, key, resp)
			}
			return nil, nil
		})
	}()
}
