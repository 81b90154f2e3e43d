package evaluator

import (
	"fmt"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"
)

// SeverityPolicy 分类 → 报警级别
type SeverityPolicy struct {
	ByCategory map[string]models.Severity
	Fallback   models.Severity
}

// SeverityFor 返回分类对应的级别，未配置时使用 Fallback
func (p SeverityPolicy) SeverityFor(category string) models.Severity {
	if s, ok := p.ByCategory[category]; ok && s.Valid() {
		return s
	}
	if p.Fallback.Valid() {
		return p.Fallback
	}
	return models.SeverityYellow
}

// Escalator 异常 → 报警，每个异常恰好一条未处理报警，不合并不抑制
type Escalator struct {
	policy SeverityPolicy
	now    func() time.Time
}

// NewEscalator 创建升级器
func NewEscalator(policy SeverityPolicy) *Escalator {
	return &Escalator{policy: policy, now: time.Now}
}

// Escalate 生成报警；CreatedAt 由数据库写入时覆盖
func (e *Escalator) Escalate(anomaly models.Anomaly) models.Alert {
	alert := models.Alert{
		PatientID:  anomaly.PatientID,
		Severity:   e.policy.SeverityFor(anomaly.Category),
		Message:    FormatMessage(anomaly),
		IsResolved: false,
		CreatedAt:  e.now(),
	}
	if anomaly.ID > 0 {
		id := anomaly.ID
		alert.AnomalyID = &id
	}
	return alert
}

// FormatMessage 报警文案，包含分类、体征、实际值和正常范围
func FormatMessage(a models.Anomaly) string {
	return fmt.Sprintf("%s anomaly: %s value %s is outside the normal range [%s, %s]",
		a.Category,
		a.Vital,
		formatValue(a.ActualValue),
		formatValue(a.ThresholdMin),
		formatValue(a.ThresholdMax),
	)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
