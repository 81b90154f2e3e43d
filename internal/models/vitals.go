package models

import (
	"math"
	"time"
)

// Vital 生命体征字段名，同时也是 vitals 表的列名
type Vital string

const (
	VitalHeartRate   Vital = "heart_rate"
	VitalTemperature Vital = "temperature"
	VitalSpO2        Vital = "spo2"
	VitalSystolic    Vital = "systolic"
	VitalDiastolic   Vital = "diastolic"
	VitalPulse       Vital = "pulse"
)

// AllVitals 检测顺序固定，保证同一样本产生的异常顺序稳定
var AllVitals = []Vital{
	VitalHeartRate,
	VitalTemperature,
	VitalSpO2,
	VitalSystolic,
	VitalDiastolic,
	VitalPulse,
}

// Source 数据来源
type Source string

const (
	SourceManual    Source = "manual"
	SourceSimulated Source = "simulated"
	SourceDevice    Source = "device"
)

// Valid 是否为已知来源
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSimulated, SourceDevice:
		return true
	}
	return false
}

// VitalsSample 一次生命体征读数（对应 vitals 表），创建后不可变
// 各体征均可为空，缺失的体征不参与检测
type VitalsSample struct {
	ID          int64     `json:"id" db:"id"`
	PatientID   int64     `json:"patient_id" db:"patient_id"`
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	HeartRate   *float64  `json:"heart_rate,omitempty" db:"heart_rate"`
	Temperature *float64  `json:"temperature,omitempty" db:"temperature"`
	SpO2        *float64  `json:"spo2,omitempty" db:"spo2"`
	Systolic    *float64  `json:"systolic,omitempty" db:"systolic"`
	Diastolic   *float64  `json:"diastolic,omitempty" db:"diastolic"`
	Pulse       *float64  `json:"pulse,omitempty" db:"pulse"`
	Source      Source    `json:"source" db:"source"`
}

// Value 返回指定体征的读数，未知体征返回 nil
func (s *VitalsSample) Value(v Vital) *float64 {
	switch v {
	case VitalHeartRate:
		return s.HeartRate
	case VitalTemperature:
		return s.Temperature
	case VitalSpO2:
		return s.SpO2
	case VitalSystolic:
		return s.Systolic
	case VitalDiastolic:
		return s.Diastolic
	case VitalPulse:
		return s.Pulse
	}
	return nil
}

// SetValue 设置指定体征的读数
func (s *VitalsSample) SetValue(v Vital, value *float64) {
	switch v {
	case VitalHeartRate:
		s.HeartRate = value
	case VitalTemperature:
		s.Temperature = value
	case VitalSpO2:
		s.SpO2 = value
	case VitalSystolic:
		s.Systolic = value
	case VitalDiastolic:
		s.Diastolic = value
	case VitalPulse:
		s.Pulse = value
	}
}

// Validate 入库前校验
func (s *VitalsSample) Validate() error {
	if s.PatientID <= 0 {
		return NewValidationError("patient_id", "must be positive")
	}
	if !s.Source.Valid() {
		return NewValidationError("source", "unknown source "+string(s.Source))
	}

	present := 0
	for _, v := range AllVitals {
		val := s.Value(v)
		if val == nil {
			continue
		}
		if math.IsNaN(*val) || math.IsInf(*val, 0) {
			return NewValidationError(string(v), "must be a finite number")
		}
		present++
	}
	if present == 0 {
		return NewValidationError("vitals", "at least one vital sign is required")
	}
	return nil
}

// Float64Ptr 辅助函数
func Float64Ptr(v float64) *float64 {
	return &v
}
