package service

import (
	"context"

	"trainer/internal/store"
)

// ActivityListPageSize is the number of activities per listing page
const ActivityListPageSize = 20

// ActivityReader is the read and user-edit side of the activity store
type ActivityReader interface {
	ListActivities(ctx context.Context, filter store.ActivityFilter, limit, offset int) ([]store.Activity, error)
	CountActivities(ctx context.Context, filter store.ActivityFilter) (int, error)
	GetActivityByID(ctx context.Context, id int64) (*store.Activity, error)
	SetExcluded(ctx context.Context, id int64, excluded bool) (*store.Activity, error)
}

// QueryService serves imported activities to the API and CLI
type QueryService struct {
	store ActivityReader
}

// NewQueryService creates a new query service
func NewQueryService(store ActivityReader) *QueryService {
	return &QueryService{store: store}
}

// ActivityPage is one page of the activity listing
type ActivityPage struct {
	Activities []store.Activity `json:"activities"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// GetActivitiesList returns one page of activities, newest first. Pages start at 1.
func (q *QueryService) GetActivitiesList(ctx context.Context, filter store.ActivityFilter, page int) (*ActivityPage, error) {
	if page < 1 {
		page = 1
	}

	activities, err := q.store.ListActivities(ctx, filter, ActivityListPageSize, (page-1)*ActivityListPageSize)
	if err != nil {
		return nil, err
	}
	total, err := q.store.CountActivities(ctx, filter)
	if err != nil {
		return nil, err
	}

	if activities == nil {
		activities = []store.Activity{}
	}
	totalPages := (total + ActivityListPageSize - 1) / ActivityListPageSize
	if totalPages < 1 {
		totalPages = 1
	}

	return &ActivityPage{
		Activities: activities,
		Total:      total,
		Page:       page,
		PageSize:   ActivityListPageSize,
		TotalPages: totalPages,
	}, nil
}

// GetActivity returns a single activity
func (q *QueryService) GetActivity(ctx context.Context, id int64) (*store.Activity, error) {
	return q.store.GetActivityByID(ctx, id)
}

// SetExcludedFromAnalysis toggles the user's exclusion flag. Sync never changes it.
func (q *QueryService) SetExcludedFromAnalysis(ctx context.Context, id int64, excluded bool) (*store.Activity, error) {
	return q.store.SetExcluded(ctx, id, excluded)
}
