package agent

import (
	"net/http"

	"github.com/minihongo/minihongo-agent/internal/store"
)

// OfflineBody 是网络与缓存双双失效时的固定正文。
const OfflineBody = "Offline"

// offlineResponse 合成 503 离线响应。每次新建，调用方可安全修改。
func offlineResponse() *store.Response {
	return &store.Response{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{
			"Content-Type": {"text/plain; charset=utf-8"},
		},
		Body: []byte(OfflineBody),
	}
}
