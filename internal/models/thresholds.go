package models

import (
	"fmt"
	"time"
)

// DefaultThresholdName 默认阈值集的名称
const DefaultThresholdName = "default"

// Range 正常范围 [Min, Max]，边界值本身视为正常
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains 值是否在范围内（含边界）
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// ThresholdSet 一组疾病阈值（对应 disease_thresholds 表）
// IsDefault 为 true 时表示未配置任何疾病阈值时使用的通用阈值
type ThresholdSet struct {
	ID          int64     `json:"id" db:"id"`
	Disease     string    `json:"disease" db:"disease"`
	IsDefault   bool      `json:"is_default" db:"-"`
	HeartRate   *Range    `json:"heart_rate,omitempty"`
	Temperature *Range    `json:"temperature,omitempty"`
	SpO2        *Range    `json:"spo2,omitempty"`
	Systolic    *Range    `json:"systolic,omitempty"`
	Diastolic   *Range    `json:"diastolic,omitempty"`
	Pulse       *Range    `json:"pulse,omitempty"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// RangeFor 返回体征对应的范围，未配置返回 nil
func (t *ThresholdSet) RangeFor(v Vital) *Range {
	switch v {
	case VitalHeartRate:
		return t.HeartRate
	case VitalTemperature:
		return t.Temperature
	case VitalSpO2:
		return t.SpO2
	case VitalSystolic:
		return t.Systolic
	case VitalDiastolic:
		return t.Diastolic
	case VitalPulse:
		return t.Pulse
	}
	return nil
}

// SetRange 设置体征范围
func (t *ThresholdSet) SetRange(v Vital, r *Range) {
	switch v {
	case VitalHeartRate:
		t.HeartRate = r
	case VitalTemperature:
		t.Temperature = r
	case VitalSpO2:
		t.SpO2 = r
	case VitalSystolic:
		t.Systolic = r
	case VitalDiastolic:
		t.Diastolic = r
	case VitalPulse:
		t.Pulse = r
	}
}

// Validate 校验名称及每个已配置范围满足 Min < Max
func (t *ThresholdSet) Validate() error {
	if t.Disease == "" {
		return NewValidationError("disease", "is required")
	}
	for _, v := range AllVitals {
		r := t.RangeFor(v)
		if r == nil {
			continue
		}
		if !(r.Min < r.Max) {
			return NewValidationError(string(v), fmt.Sprintf("min %v must be less than max %v", r.Min, r.Max))
		}
	}
	return nil
}
