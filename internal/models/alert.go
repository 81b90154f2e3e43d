package models

import (
	"strings"
	"time"
)

// Severity 报警级别，RED > YELLOW > BLUE
type Severity string

const (
	SeverityRed    Severity = "red"
	SeverityYellow Severity = "yellow"
	SeverityBlue   Severity = "blue"
)

// Rank 排序权重，数值越大越严重；未知级别为 0
func (s Severity) Rank() int {
	switch s {
	case SeverityRed:
		return 3
	case SeverityYellow:
		return 2
	case SeverityBlue:
		return 1
	}
	return 0
}

// Valid 是否为已知级别
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity 解析级别（大小写不敏感）
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", NewValidationError("severity", "unknown severity "+raw)
	}
	return s, nil
}

// Alert 报警（对应 alerts 表）
// 生命周期：OPEN → RESOLVED，单向且幂等；ResolvedAt 非空当且仅当 IsResolved
type Alert struct {
	ID         int64      `json:"id" db:"id"`
	PatientID  int64      `json:"patient_id" db:"patient_id"`
	AnomalyID  *int64     `json:"anomaly_id,omitempty" db:"anomaly_id"`
	Severity   Severity   `json:"severity" db:"severity"`
	Message    string     `json:"message" db:"message"`
	IsResolved bool       `json:"is_resolved" db:"is_resolved"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// AlertSort 报警列表排序方式
type AlertSort string

const (
	SortCreatedAtDesc AlertSort = "created_at_desc"
	SortCreatedAtAsc  AlertSort = "created_at_asc"
	SortSeverityDesc  AlertSort = "severity_desc"
	SortSeverityAsc   AlertSort = "severity_asc"
)

// Normalize 未知排序方式回退为 created_at_desc
func (s AlertSort) Normalize() AlertSort {
	switch s {
	case SortCreatedAtAsc, SortCreatedAtDesc, SortSeverityAsc, SortSeverityDesc:
		return s
	}
	return SortCreatedAtDesc
}

// AlertFilters 报警查询条件，nil 表示不过滤
type AlertFilters struct {
	PatientID     *int64
	Severity      *Severity
	CreatedAfter  *time.Time // created_at >= CreatedAfter
	CreatedBefore *time.Time // created_at <= CreatedBefore
	IsResolved    *bool

	Sort  AlertSort
	Skip  int
	Limit int
}
