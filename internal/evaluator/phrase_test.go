package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	e := NewPhraseEvaluator(nil)

	phrase := "  살려주세요  "
	assert.Equal(t, "살려주세요", e.Normalize(&phrase))

	assert.Equal(t, NoRecordPhrase, e.Normalize(nil))

	empty := "   "
	assert.Equal(t, NoRecordPhrase, e.Normalize(&empty))
}

func TestDangerous_DistressSubstrings(t *testing.T) {
	e := NewPhraseEvaluator(nil)

	// 包含任一危险子串即危险，容忍空白和标点
	dangerous := []string{
		"도와주세요",
		"살려주세요 도와주세요",
		"  도와주세요!!  ",
		"아파요",
		"배가 너무 아파요...",
		"(급함) 아파요",
	}
	for _, phrase := range dangerous {
		assert.True(t, e.Dangerous(phrase), "expected dangerous: %q", phrase)
	}

	normal := []string{
		"괜찮아요",
		"물 주세요",
		"안녕하세요",
		NoRecordPhrase,
		"",
		"   ",
	}
	for _, phrase := range normal {
		assert.False(t, e.Dangerous(phrase), "expected normal: %q", phrase)
	}
}

func TestDangerous_ConfiguredPhrases(t *testing.T) {
	e := NewPhraseEvaluator([]string{"help"})

	assert.True(t, e.Dangerous("please help me"))
	assert.False(t, e.Dangerous("살려주세요"))
}
