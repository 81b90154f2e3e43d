package models

import "time"

// Anomaly 异常记录（对应 anomalies 表），每个（样本, 越界体征）只产生一条
type Anomaly struct {
	ID           int64     `json:"id" db:"id"`
	PatientID    int64     `json:"patient_id" db:"patient_id"`
	VitalsID     int64     `json:"vitals_id" db:"vitals_id"`
	Vital        Vital     `json:"vital" db:"vital"`
	Category     string    `json:"disease" db:"disease"`
	ThresholdMin float64   `json:"threshold_min" db:"threshold_min"`
	ThresholdMax float64   `json:"threshold_max" db:"threshold_max"`
	ActualValue  float64   `json:"actual_value" db:"actual_value"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// 异常分类标签，写入 anomalies.disease
const (
	CategoryCardiovascular = "Cardiovascular"
	CategorySystemic       = "Systemic"
	CategoryRespiratory    = "Respiratory"
	CategoryGeneralHealth  = "General Health"
)
