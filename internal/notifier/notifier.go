package notifier

import (
	"context"
	"fmt"

	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

// Notifier 报警通知面（toast 的等价物）
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent)
}

// Message 渲染通知文本
func Message(event models.AlertEvent) string {
	who := event.UserID
	if event.UserName != "" {
		who = fmt.Sprintf("%s(%s)", event.UserName, event.UserID)
	}
	return fmt.Sprintf("[CueCode] 위험 문구 감지: %s - %s", who, event.Phrase)
}

// LogNotifier 写日志的默认通知面
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, event models.AlertEvent) {
	n.logger.Warn("Alert notification",
		zap.String("patient_id", event.UserID),
		zap.String("patient_name", event.UserName),
		zap.String("message", Message(event)),
	)
}

// MultiNotifier 把事件分发给多个通知面
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) Notify(ctx context.Context, event models.AlertEvent) {
	for _, n := range m.notifiers {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}
