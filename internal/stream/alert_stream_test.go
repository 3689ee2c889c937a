package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kkdo11/CueCode/internal/directory"
	"github.com/kkdo11/CueCode/internal/evaluator"
	"github.com/kkdo11/CueCode/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAggregator struct {
	mu     sync.Mutex
	events []models.AlertEvent
}

func (a *fakeAggregator) Present(ctx context.Context, events []models.AlertEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
}

func (a *fakeAggregator) snapshot() []models.AlertEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.AlertEvent(nil), a.events...)
}

// wsTestServer 接受 WebSocket 连接，把要推的消息丢进 send 通道
type wsTestServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	send     chan string
	dials    atomic.Int32
	live     atomic.Int32
}

func newWSTestServer(t *testing.T) *wsTestServer {
	t.Helper()
	ws := &wsTestServer{send: make(chan string, 8)}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.dials.Add(1)
		ws.live.Add(1)
		defer ws.live.Add(-1)
		defer conn.Close()

		// 读泵：观察对端关闭，解除下面的写循环
		peerClosed := make(chan struct{})
		go func() {
			defer close(peerClosed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-peerClosed:
				return
			case msg := <-ws.send:
				if msg == "__close__" {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsTestServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func newTestStream(t *testing.T, ws *wsTestServer, agg Aggregator, refs ...models.PatientRef) *AlertStreamClient {
	t.Helper()
	set := directory.NewOwnedPatientSet()
	set.Replace(refs)
	return NewAlertStreamClient(
		ws.url(),
		http.Header{},
		set,
		evaluator.NewPhraseEvaluator(nil),
		agg,
		20*time.Millisecond,
		zap.NewNop(),
	)
}

func TestStream_ForwardsDangerousAlert(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	client := newTestStream(t, ws, agg, models.PatientRef{ID: "P1", Name: "Kim"})

	handle := client.Connect(context.Background())
	defer handle.Close()

	ws.send <- `{"alertId":"A1","userId":"P1","phrase":"도와주세요","confirmed":false}`

	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	events := agg.snapshot()
	assert.Equal(t, "A1", events[0].AlertID)
	assert.Equal(t, "P1", events[0].UserID)
	assert.Equal(t, "Kim", events[0].UserName) // 显示名来自目录
	assert.Equal(t, "도와주세요", events[0].Phrase)
}

func TestStream_DropsUnmanagedPatient(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	client := newTestStream(t, ws, agg, models.PatientRef{ID: "P1", Name: "Kim"})

	handle := client.Connect(context.Background())
	defer handle.Close()

	// P2 不在集合内：丢弃，聚合器不被调用
	ws.send <- `{"userId":"P2","phrase":"아파요"}`
	// 再发一条合法消息作同步点
	ws.send <- `{"userId":"P1","phrase":"아파요"}`

	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "P1", agg.snapshot()[0].UserID)
}

func TestStream_DropsMalformedAndNonDangerous(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	client := newTestStream(t, ws, agg, models.PatientRef{ID: "P1", Name: "Kim"})

	handle := client.Connect(context.Background())
	defer handle.Close()

	ws.send <- `{not json`
	ws.send <- `{"userId":"P1","phrase":"괜찮아요"}`
	ws.send <- `{"phrase":"도와주세요"}` // userId 缺失
	ws.send <- `{"userId":"P1","phrase":"  도와주세요  "}`

	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	// 畸形/非危险/无主消息都被丢掉，通道保持存活，语句已去空白
	assert.Equal(t, "도와주세요", agg.snapshot()[0].Phrase)
}

func TestStream_ReconnectsOnceAfterClose(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	client := newTestStream(t, ws, agg, models.PatientRef{ID: "P1", Name: "Kim"})

	handle := client.Connect(context.Background())
	defer handle.Close()

	require.Eventually(t, func() bool {
		return ws.dials.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// 服务端关闭连接 → 延迟后恰好一次重连
	ws.send <- "__close__"

	require.Eventually(t, func() bool {
		return ws.dials.Load() == 2
	}, time.Second, 5*time.Millisecond)

	// 任意时刻最多一条活动连接
	assert.LessOrEqual(t, ws.live.Load(), int32(1))

	// 重连后的通道仍然可用
	ws.send <- `{"userId":"P1","phrase":"아파요"}`
	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestStream_HandleCloseStopsReconnect(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	client := newTestStream(t, ws, agg, models.PatientRef{ID: "P1", Name: "Kim"})

	handle := client.Connect(context.Background())
	require.Eventually(t, func() bool {
		return ws.dials.Load() == 1
	}, time.Second, 5*time.Millisecond)

	handle.Close()

	dials := ws.dials.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, dials, ws.dials.Load())
	assert.Equal(t, int32(0), ws.live.Load())
}

func TestStream_MembershipEvaluatedFreshly(t *testing.T) {
	ws := newWSTestServer(t)
	agg := &fakeAggregator{}
	set := directory.NewOwnedPatientSet()
	set.Replace([]models.PatientRef{{ID: "P1", Name: "Kim"}})
	client := NewAlertStreamClient(ws.url(), http.Header{}, set,
		evaluator.NewPhraseEvaluator(nil), agg, 20*time.Millisecond, zap.NewNop())

	handle := client.Connect(context.Background())
	defer handle.Close()

	ws.send <- `{"userId":"P1","phrase":"아파요"}`
	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	// 目录整体替换后，老成员的新消息被丢弃
	set.Replace([]models.PatientRef{{ID: "P9", Name: "Park"}})
	ws.send <- `{"userId":"P1","phrase":"아파요 다시"}`
	ws.send <- `{"userId":"P9","phrase":"아파요"}`

	require.Eventually(t, func() bool {
		return len(agg.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "P9", agg.snapshot()[1].UserID)
}
