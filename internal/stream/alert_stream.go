package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/kkdo11/CueCode/internal/directory"
	"github.com/kkdo11/CueCode/internal/evaluator"
	"github.com/kkdo11/CueCode/internal/metrics"
	"github.com/kkdo11/CueCode/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Aggregator 聚合器接口（推送通道只转发已分类为危险的事件）
type Aggregator interface {
	Present(ctx context.Context, events []models.AlertEvent)
}

// AlertStreamClient 报警推送通道客户端
// 维护一条 WebSocket 长连接；任何关闭（含错误引发的关闭）之后
// 只排一次重连，固定延迟，尝试次数不设上限，任意时刻最多一条活动连接。
type AlertStreamClient struct {
	wsURL  string
	header http.Header
	set    *directory.OwnedPatientSet
	eval   *evaluator.PhraseEvaluator
	agg    Aggregator
	delay  time.Duration
	dialer *websocket.Dialer
	logger *zap.Logger
}

// StreamHandle 推送通道句柄（拥有连接，Close 停止重连并关闭连接）
type StreamHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close 关闭通道并停止重连
func (h *StreamHandle) Close() {
	h.cancel()
	<-h.done
}

// NewAlertStreamClient 创建推送通道客户端
func NewAlertStreamClient(
	wsURL string,
	header http.Header,
	set *directory.OwnedPatientSet,
	eval *evaluator.PhraseEvaluator,
	agg Aggregator,
	delay time.Duration,
	logger *zap.Logger,
) *AlertStreamClient {
	if delay <= 0 {
		delay = 5 * time.Second
	}
	return &AlertStreamClient{
		wsURL:  wsURL,
		header: header,
		set:    set,
		eval:   eval,
		agg:    agg,
		delay:  delay,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// Connect 建立通道并在后台维持
func (c *AlertStreamClient) Connect(ctx context.Context) *StreamHandle {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go c.run(runCtx, done)
	return &StreamHandle{cancel: cancel, done: done}
}

// run 连接维持循环：单 goroutine 保证同时最多一条连接、
// 每次关闭只触发一次延迟重连（错误和关闭合并为同一个触发点）。
func (c *AlertStreamClient) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			c.logger.Warn("Alert stream dial failed",
				zap.String("url", c.wsURL),
				zap.Int("status", status),
				zap.Error(err),
			)
		} else {
			c.logger.Info("Alert stream connected",
				zap.String("url", c.wsURL),
			)
			c.readLoop(ctx, conn)
			// 出错也先强制关闭，再走统一的重连路径
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("Alert stream closed, scheduling reconnect",
				zap.Duration("delay", c.delay),
			)
		}

		metrics.IncStreamReconnects()
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

func (c *AlertStreamClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	// ctx 取消时主动关连接，解除 ReadMessage 阻塞
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(ctx, data)
	}
}

// handleMessage 处理一条推送消息
// 畸形、不属于当前集合、非危险语句的消息记日志后丢弃，通道保持打开。
func (c *AlertStreamClient) handleMessage(ctx context.Context, data []byte) {
	var event models.AlertEvent
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("Dropping malformed alert message",
			zap.ByteString("payload", data),
			zap.Error(err),
		)
		metrics.IncStreamDropped("malformed")
		return
	}

	// 成员资格在收到时实时判定，反映最近一次目录拉取
	if event.UserID == "" || !c.set.Contains(event.UserID) {
		c.logger.Debug("Dropping alert for unmanaged patient",
			zap.String("patient_id", event.UserID),
		)
		metrics.IncStreamDropped("not_owned")
		return
	}

	phrase := strings.TrimSpace(event.Phrase)
	if !c.eval.Dangerous(phrase) {
		c.logger.Debug("Dropping non-dangerous alert message",
			zap.String("patient_id", event.UserID),
			zap.String("phrase", phrase),
		)
		metrics.IncStreamDropped("not_dangerous")
		return
	}
	event.Phrase = phrase

	if event.UserName == "" {
		if name, ok := c.set.NameOf(event.UserID); ok {
			event.UserName = name
		}
	}

	c.agg.Present(ctx, []models.AlertEvent{event})
}
