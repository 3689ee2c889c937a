package models

import (
	"time"
)

// AlertEvent 危险语句报警事件（上游 MotionService 的 DangerousPhraseAlert 线格式）
// 由轮询器（从危险采样合成）或推送通道（原样投递）产生，
// 只存活到交给聚合器为止，聚合器不保留历史。
type AlertEvent struct {
	AlertID   string `json:"alertId,omitempty"` // 上游报警 ID（推送消息携带，轮询合成时为空）
	UserID    string `json:"userId"`            // 患者 ID
	UserName  string `json:"userName,omitempty"`
	Phrase    string `json:"phrase"`
	Confirmed bool   `json:"confirmed"`
}

// StatusSample 单个患者单次轮询采样
// 瞬态数据，不落库；每个患者只保留最近一次采样（覆盖语义）。
type StatusSample struct {
	PatientID  string    `json:"patientId"`
	Phrase     string    `json:"phrase"`
	ObservedAt time.Time `json:"observedAt"`
}
