package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/server/middleware"
)

type ListConflictsInput struct {
	Severity string `query:"severity" enum:"HIGH,MEDIUM,LOW," doc:"Filter by severity"`
	Status   string `query:"status" enum:"pending,approved,rejected," doc:"Filter by review status"`
	Limit    int    `query:"limit" default:"50" minimum:"1" maximum:"200" doc:"Page size"`
	Offset   int    `query:"offset" minimum:"0" doc:"Page offset"`
}

type ListConflictsOutput struct {
	Body []*domain.TechniqueConfigConflict
}

type GetConflictInput struct {
	ID uuid.UUID `path:"id" doc:"Conflict ID"`
}

type GetConflictOutput struct {
	Body *domain.TechniqueConfigConflict
}

type ReviewConflictInput struct {
	ID   uuid.UUID `path:"id" doc:"Conflict ID"`
	Body struct {
		Reason string `json:"reason,omitempty" doc:"Review note"`
	}
}

type ReviewConflictOutput struct {
	Body *domain.TechniqueConfigConflict
}

type ResetConflictInput struct {
	ID uuid.UUID `path:"id" doc:"Conflict ID"`
}

type ResetConflictOutput struct {
	Body *domain.TechniqueConfigConflict
}

func RegisterConflictRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "List technique configuration conflicts",
		Tags:        []string{"Conflicts"},
	}, func(ctx context.Context, input *ListConflictsInput) (*ListConflictsOutput, error) {
		conflicts, err := store.Conflicts().List(ctx, domain.ConflictFilter{
			Severity: domain.Severity(input.Severity),
			Status:   domain.ConflictStatus(input.Status),
			Limit:    input.Limit,
			Offset:   input.Offset,
		})
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list conflicts", err)
		}

		return &ListConflictsOutput{Body: conflicts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-conflict",
		Method:      http.MethodGet,
		Path:        "/conflicts/{id}",
		Summary:     "Get a conflict by ID",
		Tags:        []string{"Conflicts"},
	}, func(ctx context.Context, input *GetConflictInput) (*GetConflictOutput, error) {
		c, err := store.Conflicts().GetByID(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("conflict not found")
			}
			return nil, huma.Error500InternalServerError("failed to get conflict", err)
		}

		return &GetConflictOutput{Body: c}, nil
	})

	review := func(status domain.ConflictStatus) func(context.Context, *ReviewConflictInput) (*ReviewConflictOutput, error) {
		return func(ctx context.Context, input *ReviewConflictInput) (*ReviewConflictOutput, error) {
			actor, ok := middleware.ActorFromContext(ctx)
			if !ok {
				return nil, huma.Error403Forbidden("missing actor identity")
			}

			err := store.Conflicts().UpdateStatus(ctx, input.ID, status, actor, input.Body.Reason)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrNotFound):
					return nil, huma.Error404NotFound("conflict not found")
				case errors.Is(err, domain.ErrInvalidTransition):
					return nil, huma.Error409Conflict("conflict was already reviewed")
				default:
					return nil, huma.Error500InternalServerError("failed to review conflict", err)
				}
			}

			c, err := store.Conflicts().GetByID(ctx, input.ID)
			if err != nil {
				return nil, huma.Error500InternalServerError("failed to get conflict", err)
			}

			return &ReviewConflictOutput{Body: c}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "approve-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{id}/approve",
		Summary:     "Approve a pending conflict",
		Tags:        []string{"Conflicts"},
	}, review(domain.ConflictApproved))

	huma.Register(api, huma.Operation{
		OperationID: "reject-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{id}/reject",
		Summary:     "Reject a pending conflict",
		Tags:        []string{"Conflicts"},
	}, review(domain.ConflictRejected))

	huma.Register(api, huma.Operation{
		OperationID: "reset-conflict",
		Method:      http.MethodPost,
		Path:        "/conflicts/{id}/reset",
		Summary:     "Move a reviewed conflict back to pending",
		Tags:        []string{"Conflicts"},
	}, func(ctx context.Context, input *ResetConflictInput) (*ResetConflictOutput, error) {
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing actor identity")
		}

		err := store.Conflicts().Reset(ctx, input.ID, actor)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("conflict not found")
			case errors.Is(err, domain.ErrInvalidTransition):
				return nil, huma.Error409Conflict("conflict is already pending")
			default:
				return nil, huma.Error500InternalServerError("failed to reset conflict", err)
			}
		}

		c, err := store.Conflicts().GetByID(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to get conflict", err)
		}

		return &ResetConflictOutput{Body: c}, nil
	})
}
