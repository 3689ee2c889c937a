package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// WebhookNotifier 把报警推送到外部 webhook（值班群等）
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify 发送失败只记日志，不影响报警主流程
func (w *WebhookNotifier) Notify(ctx context.Context, event models.AlertEvent) {
	if w == nil || w.url == "" {
		return
	}
	if err := w.send(ctx, Message(event)); err != nil {
		w.logger.Error("Failed to deliver webhook notification",
			zap.String("patient_id", event.UserID),
			zap.Error(err),
		)
	}
}

func (w *WebhookNotifier) send(ctx context.Context, content string) error {
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
