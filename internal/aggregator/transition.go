package aggregator

import (
	"github.com/kkdo11/CueCode/internal/models"
)

// StatusError 轮询失败时状态格显示的占位文本
const StatusError = "조회 오류"

// Row 单个患者行的聚合状态
// 危险呈现状态是"最近一次分类结果"的纯函数，不跨采样累计。
type Row struct {
	State      models.RowState
	LastPhrase string
}

// InputKind 输入种类
type InputKind int

const (
	// InputAlert 已分类为危险的报警事件
	InputAlert InputKind = iota
	// InputNormal 非危险采样
	InputNormal
	// InputError 采样请求失败
	InputError
)

// Input 状态机输入
type Input struct {
	Kind   InputKind
	Phrase string
}

// SideEffectKind 呈现副作用种类
type SideEffectKind int

const (
	// EffectSetDanger 给患者行打危险标记
	EffectSetDanger SideEffectKind = iota
	// EffectClearDanger 清除患者行的全部危险标记（整行，不只单格）
	EffectClearDanger
	// EffectSetStatus 更新状态格文本
	EffectSetStatus
	// EffectToast 触发一次 toast 通知
	EffectToast
)

// SideEffect 呈现副作用
type SideEffect struct {
	Kind   SideEffectKind
	Status string // EffectSetStatus 的文本
}

// Transition 状态迁移（纯函数，无任何呈现依赖，可独立单测）
// 电平触发：每次输入独立决定新状态，之前的视觉状态必须先清掉再套新状态；
// 对已是 Normal 且语句未变的行，Normal 输入是空操作（无副作用）。
func Transition(old Row, in Input) (Row, []SideEffect) {
	switch in.Kind {
	case InputAlert:
		next := Row{State: models.RowDangerous, LastPhrase: in.Phrase}
		effects := []SideEffect{
			{Kind: EffectSetStatus, Status: in.Phrase},
		}
		if old.State != models.RowDangerous {
			effects = append(effects, SideEffect{Kind: EffectSetDanger})
		}
		effects = append(effects, SideEffect{Kind: EffectToast})
		return next, effects

	case InputError:
		return toNormal(old, StatusError)

	default: // InputNormal
		return toNormal(old, in.Phrase)
	}
}

// toNormal 迁移到 Normal：清除旧危险标记，幂等（已 Normal 且文本未变时无副作用）
func toNormal(old Row, status string) (Row, []SideEffect) {
	if old.State == models.RowNormal && old.LastPhrase == status {
		return old, nil
	}

	next := Row{State: models.RowNormal, LastPhrase: status}
	var effects []SideEffect
	if old.State == models.RowDangerous {
		effects = append(effects, SideEffect{Kind: EffectClearDanger})
	}
	effects = append(effects, SideEffect{Kind: EffectSetStatus, Status: status})
	return next, effects
}
