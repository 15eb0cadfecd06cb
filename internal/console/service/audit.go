package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/slicepilot/internal/audit"
	"github.com/xela07ax/slicepilot/internal/domain"
	"github.com/xela07ax/slicepilot/internal/guard"
)

// AuditLogProvider описывает контракт чтения аудита контура.
type AuditLogProvider interface {
	FetchRecent(ctx context.Context, limit int) ([]audit.CycleEvent, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

// DefaultLimit выборки, когда клиент лимит не прислал.
const DefaultLimit = 100

// FetchRecent валидирует лимит guardrail-слоем и читает события.
func (s *AuditService) FetchRecent(ctx context.Context, limit int) ([]audit.CycleEvent, error) {
	if limit == 0 {
		limit = DefaultLimit
	}
	if ok, issues := guard.ValidateLogLimit(limit); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidationFailed, strings.Join(issues, "; "))
	}

	events, err := s.repo.FetchRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch events: %w", err)
	}
	return events, nil
}
