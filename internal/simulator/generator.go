package simulator

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"wisefido-vitals/internal/models"
)

// Pattern 模拟数据的波动模式
type Pattern string

const (
	// PatternDiurnal 昼夜节律：白天（8-22 点）心率体温偏高，夜间偏低
	PatternDiurnal Pattern = "diurnal"
	// PatternExercise 运动：每次采样 10% 概率出现心率血压骤升、血氧略降
	PatternExercise Pattern = "exercise"
)

// Valid 是否为已知模式
func (p Pattern) Valid() bool {
	return p == PatternDiurnal || p == PatternExercise
}

type band struct {
	min, max float64
}

type normalRange struct {
	band
	decimals int
}

// 正常采样区间，均落在默认阈值之内
var normalRanges = map[models.Vital]normalRange{
	models.VitalHeartRate:   {band{60, 80}, 0},
	models.VitalTemperature: {band{36.5, 37.0}, 1},
	models.VitalSpO2:        {band{95, 99}, 0},
	models.VitalSystolic:    {band{110, 130}, 0},
	models.VitalDiastolic:   {band{70, 85}, 0},
	models.VitalPulse:       {band{60, 80}, 0},
}

// 越界采样区间，与正常区间不重叠
var anomalyBands = map[models.Vital][]band{
	models.VitalHeartRate:   {{40, 55}, {100, 130}},
	models.VitalTemperature: {{35.0, 36.0}, {37.5, 39.0}},
	models.VitalSpO2:        {{88, 94}},
	models.VitalSystolic:    {{90, 105}, {140, 180}},
	models.VitalDiastolic:   {{50, 65}, {90, 110}},
	models.VitalPulse:       {{40, 55}, {100, 130}},
}

var diurnalVariation = map[models.Vital]float64{
	models.VitalHeartRate:   10,
	models.VitalTemperature: 0.3,
}

var exerciseDelta = map[models.Vital]float64{
	models.VitalHeartRate: 30,
	models.VitalSpO2:      -2,
	models.VitalSystolic:  20,
	models.VitalDiastolic: 10,
}

const exerciseProbability = 0.1

// Generator 生命体征合成器，可并发调用
type Generator struct {
	mu                 sync.Mutex
	rng                *rand.Rand
	anomalyProbability float64
}

// NewGenerator 创建合成器；rng 为 nil 时使用随机种子
func NewGenerator(rng *rand.Rand, anomalyProbability float64) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng, anomalyProbability: anomalyProbability}
}

// Generate 合成一个样本，返回值中的 Vital 为注入越界值的体征（未注入时为空）
func (g *Generator) Generate(patientID int64, at time.Time, patterns []Pattern) (models.VitalsSample, models.Vital) {
	g.mu.Lock()
	defer g.mu.Unlock()

	readings := make(map[models.Vital]float64, len(models.AllVitals))
	for _, v := range models.AllVitals {
		r := normalRanges[v]
		readings[v] = round(g.uniform(r.band), r.decimals)
	}

	for _, p := range patterns {
		switch p {
		case PatternDiurnal:
			factor := -1.0
			if h := at.Hour(); h >= 8 && h <= 22 {
				factor = 1.0
			}
			for _, v := range models.AllVitals {
				if variation, ok := diurnalVariation[v]; ok {
					readings[v] += factor * g.uniform(band{0, variation})
				}
			}
		case PatternExercise:
			if g.rng.Float64() < exerciseProbability {
				for v, delta := range exerciseDelta {
					readings[v] += delta
				}
			}
		}
	}
	for v, value := range readings {
		readings[v] = round(value, normalRanges[v].decimals)
	}

	var injected models.Vital
	if g.rng.Float64() < g.anomalyProbability {
		injected = models.AllVitals[g.rng.IntN(len(models.AllVitals))]
		bands := anomalyBands[injected]
		b := bands[g.rng.IntN(len(bands))]
		readings[injected] = round(g.uniform(b), normalRanges[injected].decimals)
	}

	sample := models.VitalsSample{
		PatientID: patientID,
		Timestamp: at,
		Source:    models.SourceSimulated,
	}
	for _, v := range models.AllVitals {
		value := readings[v]
		sample.SetValue(v, &value)
	}
	return sample, injected
}

func (g *Generator) uniform(b band) float64 {
	return b.min + g.rng.Float64()*(b.max-b.min)
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
