package models

// IngestResult 一次样本写入的结果
type IngestResult struct {
	Sample    VitalsSample `json:"sample"`
	Anomalies []Anomaly    `json:"anomalies"`
	Alerts    []Alert      `json:"alerts"`
}
