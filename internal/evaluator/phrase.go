package evaluator

import (
	"strings"
)

// NoRecordPhrase 没有识别记录时的占位语句（上游缺失/空 phrase 统一归一化为它）
const NoRecordPhrase = "기록 없음"

// PhraseEvaluator 危险语句判定器
// 归一化后的语句只要包含任一配置的子串即判定为危险
// （子串匹配而非全等，容忍前后标点和上下文）。
type PhraseEvaluator struct {
	distress []string
}

// NewPhraseEvaluator 创建判定器
// phrases 为空时使用默认子串（求助语 + 疼痛语）。
func NewPhraseEvaluator(phrases []string) *PhraseEvaluator {
	if len(phrases) == 0 {
		phrases = []string{"도와주세요", "아파요"}
	}
	return &PhraseEvaluator{
		distress: append([]string(nil), phrases...),
	}
}

// Normalize 归一化语句：去掉首尾空白，缺失语句替换为占位语句
func (e *PhraseEvaluator) Normalize(phrase *string) string {
	if phrase == nil {
		return NoRecordPhrase
	}
	trimmed := strings.TrimSpace(*phrase)
	if trimmed == "" {
		return NoRecordPhrase
	}
	return trimmed
}

// Dangerous 判定归一化后的语句是否危险
func (e *PhraseEvaluator) Dangerous(phrase string) bool {
	trimmed := strings.TrimSpace(phrase)
	if trimmed == "" || trimmed == NoRecordPhrase {
		return false
	}
	for _, sub := range e.distress {
		if strings.Contains(trimmed, sub) {
			return true
		}
	}
	return false
}
