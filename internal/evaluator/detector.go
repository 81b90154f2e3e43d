package evaluator

import (
	"time"

	"wisefido-vitals/internal/models"
)

// AnomalyDraft 检测结果，尚未入库（无 ID / VitalsID）
type AnomalyDraft struct {
	PatientID    int64
	Vital        models.Vital
	Category     string
	ThresholdMin float64
	ThresholdMax float64
	ActualValue  float64
	Timestamp    time.Time
}

// ToAnomaly 绑定样本 ID
func (d AnomalyDraft) ToAnomaly(vitalsID int64) models.Anomaly {
	return models.Anomaly{
		PatientID:    d.PatientID,
		VitalsID:     vitalsID,
		Vital:        d.Vital,
		Category:     d.Category,
		ThresholdMin: d.ThresholdMin,
		ThresholdMax: d.ThresholdMax,
		ActualValue:  d.ActualValue,
		Timestamp:    d.Timestamp,
	}
}

// vitalCategory 疾病阈值下各体征所属分类
var vitalCategory = map[models.Vital]string{
	models.VitalHeartRate:   models.CategoryCardiovascular,
	models.VitalSystolic:    models.CategoryCardiovascular,
	models.VitalDiastolic:   models.CategoryCardiovascular,
	models.VitalPulse:       models.CategoryCardiovascular,
	models.VitalTemperature: models.CategorySystemic,
	models.VitalSpO2:        models.CategoryRespiratory,
}

// Detector 异常检测器，纯函数，无状态
type Detector struct {
	now func() time.Time
}

// NewDetector 创建检测器
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// Detect 对样本中每个有值且配置了范围的体征做越界判断
// 严格小于 Min 或严格大于 Max 才算异常；不去重，调用方对每个样本只调用一次
func (d *Detector) Detect(sample *models.VitalsSample, thresholds *models.ThresholdSet) []AnomalyDraft {
	if sample == nil || thresholds == nil {
		return nil
	}

	ts := sample.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}

	var drafts []AnomalyDraft
	for _, v := range models.AllVitals {
		value := sample.Value(v)
		if value == nil {
			continue
		}
		r := thresholds.RangeFor(v)
		if r == nil || r.Contains(*value) {
			continue
		}

		drafts = append(drafts, AnomalyDraft{
			PatientID:    sample.PatientID,
			Vital:        v,
			Category:     categoryFor(v, thresholds),
			ThresholdMin: r.Min,
			ThresholdMax: r.Max,
			ActualValue:  *value,
			Timestamp:    ts,
		})
	}
	return drafts
}

func categoryFor(v models.Vital, thresholds *models.ThresholdSet) string {
	if thresholds.IsDefault {
		return models.CategoryGeneralHealth
	}
	if c, ok := vitalCategory[v]; ok {
		return c
	}
	return models.CategoryGeneralHealth
}
