package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-coursework/internal/access"
	"github.com/noah-isme/gema-coursework/internal/models"
	"github.com/noah-isme/gema-coursework/internal/repository"
)

// ActivityEntry captures the details required to persist an audit entry.
type ActivityEntry struct {
	CourseworkID uint
	Actor        access.Actor
	Action       string
	EntityType   string
	EntityID     *uint
	Metadata     map[string]interface{}
}

// ActivityRecorder defines behaviour for recording activity logs.
type ActivityRecorder interface {
	Record(ctx context.Context, entry ActivityEntry) (models.ActivityLog, error)
}

// ActivityService exposes methods to query and persist the workflow audit trail.
type ActivityService interface {
	ActivityRecorder
	List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error)
	ListForEntity(ctx context.Context, entityType string, entityID uint) ([]models.ActivityLog, error)
}

type activityService struct {
	repo   repository.ActivityLogRepository
	logger zerolog.Logger
}

// NewActivityService constructs the activity log service.
func NewActivityService(repo repository.ActivityLogRepository, logger zerolog.Logger) ActivityService {
	return &activityService{
		repo:   repo,
		logger: logger.With().Str("component", "activity_service").Logger(),
	}
}

func (s *activityService) Record(ctx context.Context, entry ActivityEntry) (models.ActivityLog, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return models.ActivityLog{}, fmt.Errorf("action is required")
	}
	if strings.TrimSpace(entry.EntityType) == "" {
		return models.ActivityLog{}, fmt.Errorf("entity type is required")
	}

	model := models.ActivityLog{
		CourseworkID: entry.CourseworkID,
		ActorID:      entry.Actor.ID,
		ActorRole:    normalizeRole(entry.Actor.Role),
		Action:       strings.ToLower(strings.TrimSpace(entry.Action)),
		EntityType:   strings.ToLower(strings.TrimSpace(entry.EntityType)),
		EntityID:     entry.EntityID,
		Metadata:     sanitizeMetadata(entry.Metadata),
	}

	if err := s.repo.Create(ctx, &model); err != nil {
		s.logger.Error().Err(err).Str("action", model.Action).Msg("failed to persist activity log")
		return models.ActivityLog{}, err
	}

	return model, nil
}

func (s *activityService) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	filter.Action = strings.ToLower(strings.TrimSpace(filter.Action))
	filter.EntityType = strings.ToLower(strings.TrimSpace(filter.EntityType))
	return s.repo.List(ctx, filter)
}

func (s *activityService) ListForEntity(ctx context.Context, entityType string, entityID uint) ([]models.ActivityLog, error) {
	id := entityID
	entries, _, err := s.List(ctx, repository.ActivityLogFilter{EntityType: entityType, EntityID: &id})
	return entries, err
}

// sanitizeMetadata masks values whose keys look like contact details or secrets.
func sanitizeMetadata(metadata map[string]interface{}) datatypes.JSONMap {
	if metadata == nil {
		return datatypes.JSONMap{}
	}

	sanitized := datatypes.JSONMap{}
	for key, value := range metadata {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "email") || strings.Contains(lower, "token") {
			sanitized[key] = "***"
			continue
		}
		sanitized[key] = value
	}
	return sanitized
}

func normalizeRole(role string) string {
	r := access.NormalizeRole(role)
	if r == "" {
		return access.SystemRole
	}
	return r
}
