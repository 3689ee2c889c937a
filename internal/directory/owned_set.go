package directory

import (
	"sync"

	"github.com/kkdo11/CueCode/internal/models"
)

// OwnedPatientSet 当前管理者名下的患者集合
// 每次目录拉取整体替换（无增量合并）；轮询器和推送通道只读。
// 读者必须容忍两次读取之间集合被整体替换。
type OwnedPatientSet struct {
	mu       sync.RWMutex
	patients map[string]string // patientID -> 显示名
}

// NewOwnedPatientSet 创建空集合
func NewOwnedPatientSet() *OwnedPatientSet {
	return &OwnedPatientSet{
		patients: make(map[string]string),
	}
}

// Replace 整体替换集合
func (s *OwnedPatientSet) Replace(refs []models.PatientRef) {
	next := make(map[string]string, len(refs))
	for _, ref := range refs {
		if ref.ID == "" {
			continue
		}
		next[ref.ID] = ref.Name
	}

	s.mu.Lock()
	s.patients = next
	s.mu.Unlock()
}

// Contains 检查患者是否属于当前集合
func (s *OwnedPatientSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.patients[id]
	return ok
}

// NameOf 查询患者显示名
func (s *OwnedPatientSet) NameOf(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.patients[id]
	return name, ok
}

// IDs 返回当前集合的患者 ID 快照
func (s *OwnedPatientSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.patients))
	for id := range s.patients {
		ids = append(ids, id)
	}
	return ids
}

// Len 集合大小
func (s *OwnedPatientSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patients)
}
