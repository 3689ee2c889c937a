package models

import (
	"time"
)

// PatientRef 患者引用（目录接口返回的 {id, name}）
// 获取后不可变；每次目录拉取整体替换，不做增量 diff。
type PatientRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RowState 患者行的呈现状态
// Unknown 为首次采样前的初始状态（呈现为加载中）。
type RowState string

const (
	RowUnknown   RowState = "unknown"
	RowNormal    RowState = "normal"
	RowDangerous RowState = "dangerous"
)

// PatientRow 患者行的当前呈现状态快照
type PatientRow struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	State      RowState  `json:"state"`
	LastPhrase string    `json:"lastPhrase"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
