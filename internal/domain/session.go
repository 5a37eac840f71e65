package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TechniqueID is a catalog technique number such as "2.1.1.6".
type TechniqueID string

// EpicPhase is the coaching methodology axis: Explore -> Probe -> Impact -> Commit.
type EpicPhase string

const (
	PhaseExplore EpicPhase = "explore"
	PhaseProbe   EpicPhase = "probe"
	PhaseImpact  EpicPhase = "impact"
	PhaseCommit  EpicPhase = "commit"
)

// Ord returns the position of the phase in the EPIC sequence, or -1 for an
// unknown phase.
func (p EpicPhase) Ord() int {
	switch p {
	case PhaseExplore:
		return 0
	case PhaseProbe:
		return 1
	case PhaseImpact:
		return 2
	case PhaseCommit:
		return 3
	default:
		return -1
	}
}

// ValidTransition checks if an EPIC phase transition is allowed.
// Allowed: explore->probe, probe->impact, impact->commit. Commit is terminal.
// Backward movement is only possible through an administrative override.
func (p EpicPhase) ValidTransition(to EpicPhase) bool {
	switch p {
	case PhaseExplore:
		return to == PhaseProbe
	case PhaseProbe:
		return to == PhaseImpact
	case PhaseImpact:
		return to == PhaseCommit
	default:
		return false
	}
}

// Numeric scenario phases, the coarser axis independent of EpicPhase.
const (
	ScenarioPreContact     = 0
	ScenarioOpening        = 1
	ScenarioDiscovery      = 2
	ScenarioRecommendation = 3
	ScenarioDecision       = 4
)

type Mode string

const (
	ModeChat  Mode = "chat"
	ModeAudio Mode = "audio"
)

type Speaker string

const (
	SpeakerSeller   Speaker = "seller"
	SpeakerCustomer Speaker = "customer"
)

// Attitude is the derived customer disposition label recomputed every turn.
type Attitude string

const (
	AttitudePositive Attitude = "positive"
	AttitudeNeutral  Attitude = "neutral"
	AttitudeNegative Attitude = "negative"
)

// Signal is the categorical customer signal handed to the text-generation
// collaborator. The Dutch values are the wire contract the admin UI renders.
type Signal string

const (
	SignalPositief Signal = "positief"
	SignalNeutraal Signal = "neutraal"
	SignalNegatief Signal = "negatief"
)

type Difficulty string

const (
	DifficultyBeginner  Difficulty = "beginner"
	DifficultyGevorderd Difficulty = "gevorderd"
	DifficultyExpert    Difficulty = "expert"
)

// Persona describes the simulated customer. Fixed at session creation,
// read-only afterward. JSON keys are the Dutch labels the product ships.
type Persona struct {
	Style       string     `json:"stijl"`
	BuyingClock string     `json:"koopklok"`
	Difficulty  Difficulty `json:"moeilijkheid"`
}

// CustomerDynamics holds the three 0-100 disposition scalars.
type CustomerDynamics struct {
	Rapport         int `json:"rapport"`
	ValueTension    int `json:"valueTension"`
	CommitReadiness int `json:"commitReadiness"`
}

// InRange reports whether all scalars are within [0,100].
func (d CustomerDynamics) InRange() bool {
	for _, v := range []int{d.Rapport, d.ValueTension, d.CommitReadiness} {
		if v < 0 || v > 100 {
			return false
		}
	}
	return true
}

// EpicMilestones are set-once flags: false->true only, never reset within a
// session except through an administrative override.
type EpicMilestones struct {
	ProbeUsed   bool `json:"probeUsed"`
	CommitReady bool `json:"commitReady"`
	ImpactAsked bool `json:"impactAsked"`
}

// Regresses reports whether moving to next would unset a flag.
func (m EpicMilestones) Regresses(next EpicMilestones) bool {
	return (m.ProbeUsed && !next.ProbeUsed) ||
		(m.CommitReady && !next.CommitReady) ||
		(m.ImpactAsked && !next.ImpactAsked)
}

// Turn is one committed line of the conversation. History is append-only.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DialogueState is the engine's resumable mid-conversation snapshot.
// Mutated every turn; opaque to callers outside the engine.
type DialogueState struct {
	CategoryCounts map[string]int `json:"categoryCounts,omitempty"`
	LastDetected   *TechniqueID   `json:"lastDetected,omitempty"`
	LastSignal     Signal         `json:"lastSignal,omitempty"`
	AwaitingReply  bool           `json:"awaitingReply,omitempty"`
}

// Clone returns a deep copy so pipeline legs can work on a private snapshot.
func (d DialogueState) Clone() DialogueState {
	out := d
	if d.CategoryCounts != nil {
		out.CategoryCounts = make(map[string]int, len(d.CategoryCounts))
		for k, v := range d.CategoryCounts {
			out.CategoryCounts[k] = v
		}
	}
	if d.LastDetected != nil {
		id := *d.LastDetected
		out.LastDetected = &id
	}
	return out
}

type EventType string

const (
	EventTechnique  EventType = "technique"
	EventCorrection EventType = "correction"
	EventOverride   EventType = "override"
)

// ScoreEvent is one appended scoring or administrative event.
// TotalScore must always equal the sum of event deltas.
type ScoreEvent struct {
	TurnNumber  int          `json:"turnNumber"`
	Type        EventType    `json:"type"`
	TechniqueID *TechniqueID `json:"techniqueId,omitempty"`
	Delta       int          `json:"delta"`
	Reason      string       `json:"reason,omitempty"`
	Actor       string       `json:"actor,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Session is one trainee roleplay run.
type Session struct {
	ID              uuid.UUID        `json:"id"`
	UserID          uuid.UUID        `json:"userId"`
	TechniqueID     TechniqueID      `json:"techniqueId"` // technique the session was launched to practice
	Mode            Mode             `json:"mode"`
	Phase           int              `json:"phase"` // 0 = pre-contact .. 4 = decision
	EpicPhase       EpicPhase        `json:"epicPhase"`
	Milestones      EpicMilestones   `json:"epicMilestones"`
	Context         map[string]any   `json:"context,omitempty"`
	Dialogue        DialogueState    `json:"dialogueState"`
	Persona         Persona          `json:"persona"`
	CurrentAttitude Attitude         `json:"currentAttitude"`
	TurnNumber      int              `json:"turnNumber"`
	History         []Turn           `json:"conversationHistory"`
	Dynamics        CustomerDynamics `json:"customerDynamics"`
	Events          []ScoreEvent     `json:"events"`
	TotalScore      int              `json:"totalScore"`
	ExpertMode      bool             `json:"expertMode"`
	IsActive        bool             `json:"isActive"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// EventSum returns the sum of all event deltas.
func (s *Session) EventSum() int {
	sum := 0
	for _, e := range s.Events {
		sum += e.Delta
	}
	return sum
}

// TurnCommit is the full proposed delta set for one committed turn. The
// session repository is the only component that applies it, atomically.
type TurnCommit struct {
	SessionID       uuid.UUID
	ExpectedVersion int64
	TurnNumber      int // must be exactly session.TurnNumber + 1
	Line            Turn
	Event           *ScoreEvent // nil when no technique was detected
	Dynamics        CustomerDynamics
	Attitude        Attitude
	Phase           int
	EpicPhase       EpicPhase
	Milestones      EpicMilestones
	Dialogue        DialogueState
}

// OverrideCommit is an administrative regression or correction of phase or
// milestone state. It is the only path that may move phases backward, and
// it is recorded as an override event, never a turn event.
type OverrideCommit struct {
	SessionID       uuid.UUID
	ExpectedVersion int64
	Phase           *int
	EpicPhase       *EpicPhase
	Milestones      *EpicMilestones
	Reason          string
	Actor           string
}

// CorrectionCommit is an admin-approved score correction, appended as a
// correction event so the total-score invariant keeps holding.
type CorrectionCommit struct {
	SessionID       uuid.UUID
	ExpectedVersion int64
	Delta           int
	TechniqueID     *TechniqueID
	Reason          string
	Actor           string
}

// ValidateTurnCommit enforces the per-turn invariants against the current
// record. Both store implementations call it before applying a commit.
func ValidateTurnCommit(s *Session, c *TurnCommit) error {
	if !s.IsActive {
		return ErrSessionInactive
	}
	if c.ExpectedVersion != s.Version {
		return ErrVersionConflict
	}
	if c.TurnNumber != s.TurnNumber+1 {
		return ErrStaleTurn
	}
	if c.EpicPhase != s.EpicPhase && !s.EpicPhase.ValidTransition(c.EpicPhase) {
		return ErrInvalidTransition
	}
	if c.Phase < s.Phase || c.Phase > ScenarioDecision {
		return ErrInvalidTransition
	}
	if s.Milestones.Regresses(c.Milestones) {
		return ErrMilestoneRegress
	}
	if !c.Dynamics.InRange() {
		return ErrCorruptRecord
	}
	if c.Event != nil && c.Event.TurnNumber != c.TurnNumber {
		return ErrCorruptRecord
	}
	return nil
}

// ApplyTurnCommit mutates the record with a validated commit. Callers must
// hold whatever lock the store uses; the postgres store applies the same
// changes inside a transaction instead.
func ApplyTurnCommit(s *Session, c *TurnCommit, now time.Time) {
	s.TurnNumber = c.TurnNumber
	s.History = append(s.History, c.Line)
	if c.Event != nil {
		s.Events = append(s.Events, *c.Event)
		s.TotalScore += c.Event.Delta
	}
	s.Dynamics = c.Dynamics
	s.CurrentAttitude = c.Attitude
	s.Phase = c.Phase
	s.EpicPhase = c.EpicPhase
	s.Milestones = c.Milestones
	s.Dialogue = c.Dialogue
	s.Version++
	s.UpdatedAt = now
}

// SessionRepository owns the persisted session record. It is the single
// write path; all other components return proposed deltas.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Session, error)
	CommitTurn(ctx context.Context, c *TurnCommit) (*Session, error)
	CommitOverride(ctx context.Context, c *OverrideCommit) (*Session, error)
	CommitCorrection(ctx context.Context, c *CorrectionCommit) (*Session, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	ListIdleActive(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}
