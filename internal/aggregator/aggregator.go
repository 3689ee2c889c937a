package aggregator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kkdo11/CueCode/internal/metrics"
	"github.com/kkdo11/CueCode/internal/models"

	"go.uber.org/zap"
)

// ToastNotifier 外部 toast/通知面
// 聚合器不自己判定危险（调用方只转发已分类为危险的事件），
// 它只负责同一周期内不重复、不自相矛盾地呈现。
type ToastNotifier interface {
	Notify(ctx context.Context, event models.AlertEvent)
}

// NameResolver 患者显示名解析（由患者目录提供）
type NameResolver interface {
	NameOf(id string) (string, bool)
}

// AlertCallback 对外回调契约（页面脚本 processDetectedAlerts 的等价物）
// 每个危险事件以单元素切片调用一次。
type AlertCallback func(events []models.AlertEvent)

// rowEntry 的 row/name/updatedAt 由自身 mu 保护；
// 迁移和对应的呈现副作用在同一次持锁内完成，保证同一患者的
// 呈现顺序与状态机迁移顺序一致（不会出现 Clear 先于 SetDanger 落地）。
type rowEntry struct {
	mu        sync.Mutex
	row       Row
	name      string
	updatedAt time.Time
}

// Aggregator 报警聚合器
// 合并轮询器和推送通道的事件，维护每个患者的显式状态机
// （Unknown/Normal/Dangerous），驱动行级呈现和 toast 通知。
type Aggregator struct {
	mu        sync.Mutex
	rows      map[string]*rowEntry
	presenter Presenter
	notifier  ToastNotifier
	suppress  *SuppressionCache
	names     NameResolver
	callback  AlertCallback
	logger    *zap.Logger
}

// NewAggregator 创建聚合器
func NewAggregator(
	presenter Presenter,
	notifier ToastNotifier,
	suppress *SuppressionCache,
	names NameResolver,
	logger *zap.Logger,
) *Aggregator {
	return &Aggregator{
		rows:      make(map[string]*rowEntry),
		presenter: presenter,
		notifier:  notifier,
		suppress:  suppress,
		names:     names,
		logger:    logger,
	}
}

// SetAlertCallback 注册对外回调（可选）
func (a *Aggregator) SetAlertCallback(cb AlertCallback) {
	a.mu.Lock()
	a.callback = cb
	a.mu.Unlock()
}

// SyncPatients 按目录快照同步行集合
// 新患者建 Unknown 行（呈现为加载中），移出目录的患者行删除。
func (a *Aggregator) SyncPatients(refs []models.PatientRef) {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		seen[ref.ID] = true
		if entry, ok := a.rows[ref.ID]; ok {
			entry.mu.Lock()
			entry.name = ref.Name
			entry.mu.Unlock()
			continue
		}
		a.rows[ref.ID] = &rowEntry{
			row:       Row{State: models.RowUnknown},
			name:      ref.Name,
			updatedAt: time.Now(),
		}
	}
	for id := range a.rows {
		if !seen[id] {
			delete(a.rows, id)
		}
	}

	metrics.SetManagedPatients(len(a.rows))
}

// Present 呈现危险报警事件（生产者以单元素批次调用）
func (a *Aggregator) Present(ctx context.Context, events []models.AlertEvent) {
	for _, event := range events {
		a.presentOne(ctx, event)
	}
}

func (a *Aggregator) presentOne(ctx context.Context, event models.AlertEvent) {
	if event.UserID == "" {
		a.logger.Warn("Dropping alert event without user id")
		return
	}
	if event.UserName == "" {
		if name, ok := a.names.NameOf(event.UserID); ok {
			event.UserName = name
		}
	}

	a.mu.Lock()
	entry := a.ensureEntryLocked(event.UserID, event.UserName)
	callback := a.callback
	a.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	next, effects := Transition(entry.row, Input{Kind: InputAlert, Phrase: event.Phrase})
	entry.row = next
	entry.updatedAt = time.Now()

	for _, effect := range effects {
		switch effect.Kind {
		case EffectSetStatus:
			a.presenter.SetRowStatus(event.UserID, effect.Status)
		case EffectSetDanger:
			a.presenter.SetRowDanger(event.UserID)
		case EffectToast:
			if !a.suppress.Allow(ctx, event.UserID, event.Phrase) {
				a.logger.Debug("Duplicate alert suppressed",
					zap.String("patient_id", event.UserID),
				)
				continue
			}
			a.logger.Warn("Dangerous phrase alert",
				zap.String("patient_id", event.UserID),
				zap.String("patient_name", event.UserName),
				zap.String("phrase", event.Phrase),
			)
			a.notifier.Notify(ctx, event)
			if callback != nil {
				callback([]models.AlertEvent{event})
			}
			metrics.IncAlertsPresented()
		}
	}
}

// ReportNormal 上报非危险采样：清掉旧危险标记（幂等）
func (a *Aggregator) ReportNormal(patientID, phrase string) {
	a.applyNormal(patientID, Input{Kind: InputNormal, Phrase: phrase})
}

// ReportError 上报采样失败：状态格显示错误占位，危险标记无条件清除
func (a *Aggregator) ReportError(patientID string) {
	a.applyNormal(patientID, Input{Kind: InputError})
}

func (a *Aggregator) applyNormal(patientID string, in Input) {
	if patientID == "" {
		return
	}

	a.mu.Lock()
	entry := a.ensureEntryLocked(patientID, "")
	a.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	next, effects := Transition(entry.row, in)
	if len(effects) > 0 {
		entry.updatedAt = time.Now()
	}
	entry.row = next

	for _, effect := range effects {
		switch effect.Kind {
		case EffectClearDanger:
			a.presenter.ClearRowDanger(patientID)
		case EffectSetStatus:
			a.presenter.SetRowStatus(patientID, effect.Status)
		}
	}
}

// Snapshot 导出当前行状态（本地 HTTP 视图用）
func (a *Aggregator) Snapshot() []models.PatientRow {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows := make([]models.PatientRow, 0, len(a.rows))
	for id, entry := range a.rows {
		entry.mu.Lock()
		rows = append(rows, models.PatientRow{
			ID:         id,
			Name:       entry.name,
			State:      entry.row.State,
			LastPhrase: entry.row.LastPhrase,
			UpdatedAt:  entry.updatedAt,
		})
		entry.mu.Unlock()
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

// ensureEntryLocked 取或建患者行（推送事件可能先于目录同步到达）
func (a *Aggregator) ensureEntryLocked(patientID, name string) *rowEntry {
	entry, ok := a.rows[patientID]
	if !ok {
		entry = &rowEntry{
			row:       Row{State: models.RowUnknown},
			updatedAt: time.Now(),
		}
		a.rows[patientID] = entry
	}
	if name != "" {
		entry.mu.Lock()
		entry.name = name
		entry.mu.Unlock()
	}
	return entry
}
