package aggregator

import (
	"go.uber.org/zap"
)

// Presenter 行级呈现面（DOM 行样式的替代物）
// 聚合器是唯一的调用方：生产者从不直接操作呈现状态。
type Presenter interface {
	// SetRowDanger 给患者行打危险标记
	SetRowDanger(patientID string)
	// ClearRowDanger 清除患者行的全部危险标记（整行）
	ClearRowDanger(patientID string)
	// SetRowStatus 更新患者行的状态格文本
	SetRowStatus(patientID, status string)
}

// LogPresenter 把行级变化写入日志的默认呈现面
type LogPresenter struct {
	logger *zap.Logger
}

func NewLogPresenter(logger *zap.Logger) *LogPresenter {
	return &LogPresenter{logger: logger}
}

func (p *LogPresenter) SetRowDanger(patientID string) {
	p.logger.Warn("Patient row marked dangerous",
		zap.String("patient_id", patientID),
	)
}

func (p *LogPresenter) ClearRowDanger(patientID string) {
	p.logger.Info("Patient row danger cleared",
		zap.String("patient_id", patientID),
	)
}

func (p *LogPresenter) SetRowStatus(patientID, status string) {
	p.logger.Debug("Patient row status updated",
		zap.String("patient_id", patientID),
		zap.String("status", status),
	)
}
