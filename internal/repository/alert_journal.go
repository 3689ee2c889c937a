package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kkdo11/CueCode/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertJournalRepository 报警留痕仓库
type AlertJournalRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertJournalRepository 创建报警留痕仓库
func NewAlertJournalRepository(db *sql.DB, logger *zap.Logger) *AlertJournalRepository {
	return &AlertJournalRepository{
		db:     db,
		logger: logger,
	}
}

// JournalEntry 一条已落库的报警记录
type JournalEntry struct {
	AlertID    string    `json:"alert_id"`
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	Phrase     string    `json:"phrase"`
	Confirmed  bool      `json:"confirmed"`
	DetectedAt time.Time `json:"detected_at"`
}

// EnsureSchema 建表（幂等）
func (r *AlertJournalRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS alert_journal (
			alert_id    TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			user_name   TEXT NOT NULL DEFAULT '',
			phrase      TEXT NOT NULL,
			confirmed   BOOLEAN NOT NULL DEFAULT FALSE,
			detected_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure alert_journal schema: %w", err)
	}
	return nil
}

// InsertAlert 写入报警记录
// 上游没有 alertId 时本地生成一个；重复 alertId 静默跳过（去重后的重放）
func (r *AlertJournalRepository) InsertAlert(ctx context.Context, event models.AlertEvent, detectedAt time.Time) (string, error) {
	alertID := event.AlertID
	if alertID == "" {
		alertID = uuid.New().String()
	}

	query := `
		INSERT INTO alert_journal (alert_id, user_id, user_name, phrase, confirmed, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (alert_id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, query,
		alertID,
		event.UserID,
		event.UserName,
		event.Phrase,
		event.Confirmed,
		detectedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert alert journal entry: %w", err)
	}

	r.logger.Debug("Alert journal entry written",
		zap.String("alert_id", alertID),
		zap.String("patient_id", event.UserID),
	)
	return alertID, nil
}

// ConfirmAlert 标记报警为已确认
func (r *AlertJournalRepository) ConfirmAlert(ctx context.Context, alertID string) error {
	query := `UPDATE alert_journal SET confirmed = TRUE WHERE alert_id = $1`

	result, err := r.db.ExecContext(ctx, query, alertID)
	if err != nil {
		return fmt.Errorf("failed to confirm alert %s: %w", alertID, err)
	}

	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		r.logger.Warn("Confirm targeted unknown alert", zap.String("alert_id", alertID))
	}
	return nil
}

// RecentAlerts 查询某时间点之后的报警，按检测时间倒序
func (r *AlertJournalRepository) RecentAlerts(ctx context.Context, since time.Time) ([]JournalEntry, error) {
	query := `
		SELECT alert_id, user_id, user_name, phrase, confirmed, detected_at
		FROM alert_journal
		WHERE detected_at >= $1
		ORDER BY detected_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.AlertID, &e.UserID, &e.UserName, &e.Phrase, &e.Confirmed, &e.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert journal row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert journal rows: %w", err)
	}
	return entries, nil
}
