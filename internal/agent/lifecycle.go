package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/minihongo/minihongo-agent/internal/config"
	"github.com/minihongo/minihongo-agent/internal/store"
)

// State 描述 Agent 的生命周期阶段。
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
)

// precacheConcurrency 限制 install 阶段的并发回源数量。
const precacheConcurrency = 8

// State 返回当前生命周期状态。
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{
		"action":  "lifecycle",
		"version": a.version,
		"state":   string(s),
	}).Info("agent state changed")
}

// Install 让新代际立即就绪，不等待旧实例退出（skip-waiting 语义）。
// 在 install 预缓存模式下，整份清单作为一个整体填充，任一资源
// 失败则安装中止；activate 模式下这里不做任何网络操作。
func (a *Agent) Install(ctx context.Context) error {
	a.setState(StateInstalling)

	if a.precacheMode == config.PrecacheModeInstall {
		if err := a.seedAll(ctx); err != nil {
			return fmt.Errorf("precache during install: %w", err)
		}
	}

	a.setState(StateInstalled)
	return nil
}

// Activate 清扫所有非当前代际的存储，随后宣告接管。代际清扫是整库
// 唯一的淘汰机制；单个代际删除失败只降级（旧数据多占一阵磁盘），
// 不会阻止新代际上线。activate 预缓存模式下，清单在后台尽力填充，
// 任何失败都被吞掉。
func (a *Agent) Activate(ctx context.Context) error {
	a.setState(StateActivating)

	versions, err := a.store.Versions(ctx)
	if err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "version_sweep_failed",
			"version": a.version,
		}).Warn("cannot enumerate store versions")
	} else {
		for _, stale := range versions {
			if stale == a.version {
				continue
			}
			if err := a.store.DeleteVersion(ctx, stale); err != nil {
				a.logger.WithError(err).WithFields(logrus.Fields{
					"action":        "version_sweep_failed",
					"version":       a.version,
					"stale_version": stale,
				}).Warn("cannot delete stale version")
				continue
			}
			a.logger.WithFields(logrus.Fields{
				"action":        "version_sweep",
				"version":       a.version,
				"stale_version": stale,
			}).Info("stale cache version deleted")
		}
	}

	a.setState(StateActive)

	if a.precacheMode == config.PrecacheModeActivate {
		a.background.Add(1)
		go func() {
			defer a.background.Done()
			// 激活已经完成，这里用独立上下文尽力填充。
			a.seedBestEffort(context.Background())
		}()
	}

	return nil
}

// seedAll 并发填充整份清单，任何一项失败都会使整体失败。
func (a *Agent) seedAll(ctx context.Context) error {
	if len(a.precache) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for _, path := range a.precache {
		g.Go(func() error {
			return a.precacheOne(ctx, path)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"action":    "precache",
		"version":   a.version,
		"resources": len(a.precache),
	}).Info("precache complete")
	return nil
}

// seedBestEffort 逐项填充清单，单项失败记日志后继续。
func (a *Agent) seedBestEffort(ctx context.Context) {
	seeded := 0
	for _, path := range a.precache {
		if err := a.precacheOne(ctx, path); err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"action":  "precache_skip",
				"version": a.version,
				"path":    path,
			}).Warn("precache resource skipped")
			continue
		}
		seeded++
	}

	a.logger.WithFields(logrus.Fields{
		"action":    "precache",
		"version":   a.version,
		"resources": len(a.precache),
		"seeded":    seeded,
	}).Info("precache complete")
}

// precacheOne 抓取并落库一个清单成员，仅 2xx 会被写入。
func (a *Agent) precacheOne(ctx context.Context, path string) error {
	rawURL := a.resolve(path, "")
	resp, err := a.fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if !isSuccess(resp.Status) {
		return fmt.Errorf("precache %s: status %d", path, resp.Status)
	}

	resp.Stamp(a.clock())
	key := store.Key{Method: http.MethodGet, URL: rawURL}
	if err := a.store.Put(ctx, a.version, key, resp); err != nil {
		return fmt.Errorf("precache %s: %w", path, err)
	}
	return nil
}
