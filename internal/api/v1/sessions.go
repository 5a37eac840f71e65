package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/epicsales/coach/internal/domain"
	"github.com/epicsales/coach/internal/engine"
	"github.com/epicsales/coach/internal/server/middleware"
)

type CreateSessionInput struct {
	Body struct {
		UserID      uuid.UUID      `json:"userId" doc:"Trainee user ID"`
		TechniqueID string         `json:"techniqueId" minLength:"1" doc:"Catalog technique to practice"`
		Mode        string         `json:"mode,omitempty" enum:"chat,audio" doc:"Conversation mode"`
		Persona     domain.Persona `json:"persona" doc:"Simulated customer persona"`
		Context     map[string]any `json:"context,omitempty" doc:"Free-form scenario context"`
		ExpertMode  bool           `json:"expertMode,omitempty" doc:"Include per-turn debug payloads in responses"`
	}
}

type CreateSessionOutput struct {
	Body *domain.Session
}

type ListSessionsInput struct {
	UserID uuid.UUID `query:"userId" required:"true" doc:"Trainee user ID"`
	Limit  int       `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int       `query:"offset" minimum:"0" doc:"Page offset"`
}

type ListSessionsOutput struct {
	Body []*domain.Session
}

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body *domain.Session
}

type SubmitTurnInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		TurnNumber int    `json:"turnNumber" minimum:"1" doc:"Expected turn number (session turn + 1)"`
		Speaker    string `json:"speaker,omitempty" enum:"seller,customer" doc:"Who spoke; defaults to seller"`
		Text       string `json:"text" minLength:"1" maxLength:"4000" doc:"Utterance text"`
	}
}

// TurnResponse is the committed outcome of one submitted turn. The debug
// payloads are present only for expert-mode sessions.
type TurnResponse struct {
	SessionID     uuid.UUID                 `json:"sessionId"`
	TurnNumber    int                       `json:"turnNumber"`
	Phase         int                       `json:"phase"`
	EpicPhase     domain.EpicPhase          `json:"epicFase"`
	Milestones    domain.EpicMilestones     `json:"epicMilestones"`
	Detected      *domain.TechniqueID       `json:"detectedTechnique"`
	Expected      domain.TechniqueID        `json:"expectedTechnique"`
	Confidence    float64                   `json:"confidence"`
	ScoreDelta    int                       `json:"scoreDelta"`
	TotalScore    int                       `json:"totalScore"`
	Signal        domain.Signal             `json:"signaal"`
	CustomerReply string                    `json:"customerReply"`
	SellerDebug   *domain.SellerTurnDebug   `json:"sellerDebug,omitempty"`
	CustomerDebug *domain.CustomerTurnDebug `json:"customerDebug,omitempty"`
}

type SubmitTurnOutput struct {
	Body *TurnResponse
}

type CompleteSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type CompleteSessionOutput struct {
	Body *domain.SessionArtifact
}

type ListArtifactsInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type ListArtifactsOutput struct {
	Body []*domain.SessionArtifact
}

type OverrideSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Phase      *int                   `json:"phase,omitempty" doc:"Target numeric phase (0-4)"`
		EpicPhase  *domain.EpicPhase      `json:"epicFase,omitempty" doc:"Target EPIC phase"`
		Milestones *domain.EpicMilestones `json:"epicMilestones,omitempty" doc:"Milestone flags to set"`
		Reason     string                 `json:"reason" minLength:"1" doc:"Why the override is applied"`
	}
}

type OverrideSessionOutput struct {
	Body *domain.Session
}

type CorrectSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Body struct {
		Delta       int     `json:"delta" doc:"Score adjustment, may be negative"`
		TechniqueID *string `json:"techniqueId,omitempty" doc:"Technique the correction concerns"`
		Reason      string  `json:"reason" minLength:"1" doc:"Why the score is corrected"`
	}
}

type CorrectSessionOutput struct {
	Body *domain.Session
}

func mapTurnError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, domain.ErrSessionInactive):
		return huma.Error409Conflict("session is no longer active")
	case errors.Is(err, domain.ErrStaleTurn):
		return huma.Error409Conflict("turn number is stale; refresh the session")
	case errors.Is(err, engine.ErrRetryExhausted):
		return huma.Error409Conflict("session is busy; retry the turn")
	default:
		return huma.Error500InternalServerError("failed to process turn", err)
	}
}

func RegisterSessionRoutes(api huma.API, eng CoachEngine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-session",
		Method:      http.MethodPost,
		Path:        "/sessions",
		Summary:     "Start a new coaching session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		mode := domain.Mode(input.Body.Mode)
		if mode == "" {
			mode = domain.ModeChat
		}

		s, err := eng.CreateSession(ctx, engine.CreateParams{
			UserID:      input.Body.UserID,
			TechniqueID: domain.TechniqueID(input.Body.TechniqueID),
			Mode:        mode,
			Persona:     input.Body.Persona,
			Context:     input.Body.Context,
			ExpertMode:  input.Body.ExpertMode,
		})
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("technique not found in catalog")
			}
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		return &CreateSessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List a trainee's sessions",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
		sessions, err := eng.ListSessions(ctx, input.UserID, input.Limit, input.Offset)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list sessions", err)
		}

		return &ListSessionsOutput{Body: sessions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session with its full history",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		s, err := eng.GetSession(ctx, input.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to get session", err)
		}

		return &GetSessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-turn",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/turns",
		Summary:     "Submit a trainee utterance and receive the customer reply",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *SubmitTurnInput) (*SubmitTurnOutput, error) {
		// A human trainer may speak the customer's line directly; those
		// turns skip detection and scoring entirely.
		if domain.Speaker(input.Body.Speaker) == domain.SpeakerCustomer {
			s, err := eng.AppendCustomerLine(ctx, input.ID, input.Body.TurnNumber, input.Body.Text)
			if err != nil {
				return nil, mapTurnError(err)
			}
			return &SubmitTurnOutput{Body: &TurnResponse{
				SessionID:  s.ID,
				TurnNumber: s.TurnNumber,
				Phase:      s.Phase,
				EpicPhase:  s.EpicPhase,
				Milestones: s.Milestones,
				TotalScore: s.TotalScore,
			}}, nil
		}

		res, err := eng.SubmitTurn(ctx, input.ID, input.Body.TurnNumber, input.Body.Text)
		if err != nil {
			return nil, mapTurnError(err)
		}

		s := res.Session
		resp := &TurnResponse{
			SessionID:     s.ID,
			TurnNumber:    s.TurnNumber,
			Phase:         s.Phase,
			EpicPhase:     s.EpicPhase,
			Milestones:    s.Milestones,
			Detected:      res.Detected,
			Expected:      res.Expected,
			Confidence:    res.Confidence,
			ScoreDelta:    res.ScoreDelta,
			TotalScore:    s.TotalScore,
			Signal:        res.Signal,
			CustomerReply: res.CustomerReply,
		}
		if s.ExpertMode {
			resp.SellerDebug = res.SellerDebug
			resp.CustomerDebug = res.CustomerDebug
		}

		return &SubmitTurnOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/complete",
		Summary:     "Complete a session and save its transcript artifact",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CompleteSessionInput) (*CompleteSessionOutput, error) {
		artifact, err := eng.CompleteSession(ctx, input.ID)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("session not found")
			case errors.Is(err, domain.ErrSessionInactive):
				return nil, huma.Error409Conflict("session is already completed")
			default:
				return nil, huma.Error500InternalServerError("failed to complete session", err)
			}
		}

		return &CompleteSessionOutput{Body: artifact}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-artifacts",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}/artifacts",
		Summary:     "List a session's saved artifacts",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *ListArtifactsInput) (*ListArtifactsOutput, error) {
		artifacts, err := eng.ListArtifacts(ctx, input.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list artifacts", err)
		}

		return &ListArtifactsOutput{Body: artifacts}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "override-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/override",
		Summary:     "Apply an administrative phase or milestone override",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *OverrideSessionInput) (*OverrideSessionOutput, error) {
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing actor identity")
		}

		s, err := eng.Override(ctx, input.ID, engine.OverrideParams{
			Phase:      input.Body.Phase,
			EpicPhase:  input.Body.EpicPhase,
			Milestones: input.Body.Milestones,
			Reason:     input.Body.Reason,
			Actor:      actor,
		})
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrNotFound):
				return nil, huma.Error404NotFound("session not found")
			case errors.Is(err, domain.ErrInvalidTransition):
				return nil, huma.Error422UnprocessableEntity("override target is not a valid state")
			default:
				return nil, huma.Error500InternalServerError("failed to apply override", err)
			}
		}

		return &OverrideSessionOutput{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "correct-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{id}/corrections",
		Summary:     "Apply an admin-approved score correction",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *CorrectSessionInput) (*CorrectSessionOutput, error) {
		actor, ok := middleware.ActorFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing actor identity")
		}

		var techniqueID *domain.TechniqueID
		if input.Body.TechniqueID != nil {
			id := domain.TechniqueID(*input.Body.TechniqueID)
			techniqueID = &id
		}

		s, err := eng.Correct(ctx, input.ID, input.Body.Delta, techniqueID, input.Body.Reason, actor)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("session not found")
			}
			return nil, huma.Error500InternalServerError("failed to apply correction", err)
		}

		return &CorrectSessionOutput{Body: s}, nil
	})
}
