package server

import (
	"sync/atomic"

	"github.com/minihongo/minihongo-agent/internal/agent"
)

// Runtime 持有当前活跃的 Agent。部署新代际时在 Activate 完成后原子
// 替换，等价于立即接管所有已打开的客户端，不等待任何导航。
type Runtime struct {
	active atomic.Pointer[agent.Agent]
}

// NewRuntime 构建空的 Runtime；在首个 Agent 激活前所有请求都会被放行。
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Swap 安装新的活跃 Agent，返回被替换的旧实例（可能为 nil），
// 便于调用方等待旧实例的后台任务收尾。
func (r *Runtime) Swap(a *agent.Agent) *agent.Agent {
	return r.active.Swap(a)
}

// Active 返回当前活跃 Agent；尚未激活时返回 nil。
func (r *Runtime) Active() *agent.Agent {
	return r.active.Load()
}
