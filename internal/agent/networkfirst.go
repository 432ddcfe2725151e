package agent

import (
	"context"

	"github.com/minihongo/minihongo-agent/internal/store"
)

// networkFirst 面向片段资源：尽量反映最新内容，但绝不无限等待。
//
// 每次调用恰好起一个计时器与网络竞速。抓取在时限内成功（2xx）则
// 落库并返回；时限内到达的非 2xx 原样返回但不落库；超时或网络错误
// 回退到存储（此处不再做年龄检查——这已是降级路径），最后才合成
// 离线响应。输掉竞速的抓取不被取消：它挂在独立上下文上继续完成，
// 2xx 结果仍会落库供下次请求使用。
func (a *Agent) networkFirst(ctx context.Context, key store.Key) (*Result, error) {
	type fetchResult struct {
		resp *store.Response
		err  error
	}

	resultCh := make(chan fetchResult, 1)
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		resp, err := a.fetch(context.Background(), key.URL)
		if err == nil && isSuccess(resp.Status) {
			a.stampAndStore(context.Background(), key, resp)
		}
		resultCh <- fetchResult{resp: resp, err: err}
	}()

	timeoutCh, stopTimer := a.timer(a.fragmentTimeout)

	select {
	case res := <-resultCh:
		stopTimer()
		if res.err == nil {
			return &Result{
				Response: res.resp,
				Strategy: StrategyNetworkFirst,
			}, nil
		}
		// 网络错误与超时走同一条恢复路径。
	case <-timeoutCh:
	}

	if cached := a.lookup(ctx, key); cached != nil {
		return &Result{
			Response: cached,
			Strategy: StrategyNetworkFirst,
			CacheHit: true,
			Stale:    true,
		}, nil
	}

	return &Result{
		Response: offlineResponse(),
		Strategy: StrategyNetworkFirst,
		Offline:  true,
	}, nil
}
