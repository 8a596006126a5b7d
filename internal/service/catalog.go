package service

import (
	"context"
	"fmt"
	"strings"

	"aigateway/internal/model"
	"aigateway/internal/repository"
)

// CatalogService 将模型名解析为具体的提供商变体
type CatalogService struct {
	variantRepo repository.VariantRepositoryInterface
	groupRepo   repository.GroupRepositoryInterface
}

func NewCatalogService() *CatalogService {
	return &CatalogService{
		variantRepo: repository.NewVariantRepository(),
		groupRepo:   repository.NewGroupRepository(),
	}
}

func NewCatalogServiceWithRepo(variantRepo repository.VariantRepositoryInterface, groupRepo repository.GroupRepositoryInterface) *CatalogService {
	return &CatalogService{variantRepo: variantRepo, groupRepo: groupRepo}
}

// Resolve 在密钥所属分组内选择最便宜的可服务变体
// 全目录都没有该模型返回 ErrModelNotFound；有但不在分组内（或分组停用）返回 ErrModelNotEntitled
func (s *CatalogService) Resolve(ctx context.Context, groupID, name string) (*model.ModelVariant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}

	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: load group: %v", ErrInternal, err)
	}

	if group != nil && group.IsActive {
		candidates, err := s.variantRepo.ListGroupCandidates(ctx, groupID, name)
		if err != nil {
			return nil, fmt.Errorf("%w: list candidates: %v", ErrInternal, err)
		}
		if v := PickCheapest(candidates); v != nil {
			return v, nil
		}
	}

	n, err := s.variantRepo.CountServable(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: count variants: %v", ErrInternal, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return nil, fmt.Errorf("%w: %s", ErrModelNotEntitled, name)
}

// PickCheapest 按 输入价+输出价 取最小，同价时按提供商 ID 升序
func PickCheapest(candidates []*model.ModelVariant) *model.ModelVariant {
	var best *model.ModelVariant
	for _, v := range candidates {
		if best == nil {
			best = v
			continue
		}
		switch v.PriceSum().Cmp(best.PriceSum()) {
		case -1:
			best = v
		case 0:
			if v.ProviderID < best.ProviderID {
				best = v
			}
		}
	}
	return best
}

// ListEntitled 分组可用的模型，同名只保留实际会被选中的那个变体
func (s *CatalogService) ListEntitled(ctx context.Context, groupID string) ([]*model.ModelVariant, error) {
	group, err := s.groupRepo.GetByID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: load group: %v", ErrInternal, err)
	}
	if group == nil || !group.IsActive {
		return []*model.ModelVariant{}, nil
	}

	variants, err := s.variantRepo.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("%w: list variants: %v", ErrInternal, err)
	}

	byName := make(map[string][]*model.ModelVariant)
	order := make([]string, 0, len(variants))
	for _, v := range variants {
		if _, ok := byName[v.Name]; !ok {
			order = append(order, v.Name)
		}
		byName[v.Name] = append(byName[v.Name], v)
	}

	result := make([]*model.ModelVariant, 0, len(order))
	for _, name := range order {
		result = append(result, PickCheapest(byName[name]))
	}
	return result, nil
}
