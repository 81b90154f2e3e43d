package service

import (
	"context"
	"fmt"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"go.uber.org/zap"
)

// ThresholdService 阈值读取与维护
type ThresholdService struct {
	repo     *repository.ThresholdRepository
	defaults models.ThresholdSet
	logger   *zap.Logger
}

// NewThresholdService 创建阈值服务；defaults 在没有任何疾病阈值时使用
func NewThresholdService(repo *repository.ThresholdRepository, defaults models.ThresholdSet, logger *zap.Logger) *ThresholdService {
	defaults.IsDefault = true
	if defaults.Disease == "" {
		defaults.Disease = models.DefaultThresholdName
	}
	return &ThresholdService{
		repo:     repo,
		defaults: defaults,
		logger:   logger,
	}
}

// Active 当前生效的阈值集；数据库为空时返回默认阈值的副本
func (s *ThresholdService) Active(ctx context.Context) (*models.ThresholdSet, error) {
	set, err := s.repo.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	if set != nil {
		return set, nil
	}

	def := s.defaults
	return &def, nil
}

// List 全部疾病阈值
func (s *ThresholdService) List(ctx context.Context) ([]models.ThresholdSet, error) {
	return s.repo.List(ctx)
}

// Get 按疾病名获取
func (s *ThresholdService) Get(ctx context.Context, disease string) (*models.ThresholdSet, error) {
	return s.repo.GetByDisease(ctx, disease)
}

// Upsert 新增或原地更新一组阈值
func (s *ThresholdService) Upsert(ctx context.Context, set *models.ThresholdSet) error {
	if set == nil {
		return models.NewValidationError("thresholds", "is required")
	}
	if set.Disease == models.DefaultThresholdName {
		return models.NewValidationError("disease", "name is reserved")
	}
	return s.repo.Upsert(ctx, set)
}

// Seed 批量导入，遇到第一个错误即停止
func (s *ThresholdService) Seed(ctx context.Context, sets []models.ThresholdSet) error {
	for i := range sets {
		if err := s.Upsert(ctx, &sets[i]); err != nil {
			return fmt.Errorf("failed to seed thresholds %q: %w", sets[i].Disease, err)
		}
	}
	s.logger.Info("Threshold seed applied", zap.Int("count", len(sets)))
	return nil
}
