package config

import (
	"fmt"
	"os"

	"wisefido-vitals/internal/models"

	"gopkg.in/yaml.v3"
)

// thresholdSeedFile 阈值种子文件格式：
//
//	thresholds:
//	  - disease: Hypertension
//	    heart_rate: {min: 60, max: 100}
//	    systolic: {min: 90, max: 140}
type thresholdSeedFile struct {
	Thresholds []thresholdSeed `yaml:"thresholds"`
}

type thresholdSeed struct {
	Disease     string        `yaml:"disease"`
	HeartRate   *models.Range `yaml:"heart_rate"`
	Temperature *models.Range `yaml:"temperature"`
	SpO2        *models.Range `yaml:"spo2"`
	Systolic    *models.Range `yaml:"systolic"`
	Diastolic   *models.Range `yaml:"diastolic"`
	Pulse       *models.Range `yaml:"pulse"`
}

// LoadThresholdSeed 读取并校验 YAML 阈值文件，疾病名重复视为错误
func LoadThresholdSeed(path string) ([]models.ThresholdSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold seed file: %w", err)
	}
	return ParseThresholdSeed(data)
}

// ParseThresholdSeed 解析 YAML 阈值内容
func ParseThresholdSeed(data []byte) ([]models.ThresholdSet, error) {
	var file thresholdSeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse threshold seed: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Thresholds))
	sets := make([]models.ThresholdSet, 0, len(file.Thresholds))
	for i, s := range file.Thresholds {
		set := models.ThresholdSet{
			Disease:     s.Disease,
			HeartRate:   s.HeartRate,
			Temperature: s.Temperature,
			SpO2:        s.SpO2,
			Systolic:    s.Systolic,
			Diastolic:   s.Diastolic,
			Pulse:       s.Pulse,
		}
		if err := set.Validate(); err != nil {
			return nil, fmt.Errorf("threshold seed entry %d: %w", i, err)
		}
		if _, dup := seen[set.Disease]; dup {
			return nil, fmt.Errorf("threshold seed entry %d: %w", i,
				models.NewValidationError("disease", "duplicate "+set.Disease))
		}
		seen[set.Disease] = struct{}{}
		sets = append(sets, set)
	}
	return sets, nil
}
