package domain

// Per-turn debug payload surfaced in the admin chat views. The JSON keys,
// including the Dutch ones, are the contract the existing panels render
// and must not be weakened.

// DynamicsBucket pairs a dynamics scalar with its categorical bucket
// ("hoog", "neutraal", "laag").
type DynamicsBucket struct {
	Value  int    `json:"value"`
	Bucket string `json:"bucket"`
}

// TurnDebugBase is the shared part of both debug variants.
type TurnDebugBase struct {
	Role            Speaker        `json:"role"`
	Persona         Persona        `json:"persona"`
	Context         map[string]any `json:"context,omitempty"`
	Phase           int            `json:"phase"`
	EpicPhase       EpicPhase      `json:"epicFase"`
	Rapport         DynamicsBucket `json:"rapport"`
	ValueTension    DynamicsBucket `json:"valueTension"`
	CommitReadiness DynamicsBucket `json:"commitReadiness"`
}

// SellerTurnDebug is emitted for trainee (seller) turns.
type SellerTurnDebug struct {
	TurnDebugBase
	DetectedTechnique *TechniqueID   `json:"detectedTechnique"`
	ExpectedTechnique TechniqueID    `json:"expectedTechnique"`
	Confidence        float64        `json:"confidence"`
	Evaluation        string         `json:"evaluatie"`
	ScoreDelta        int            `json:"scoreDelta"`
	Milestones        EpicMilestones `json:"epicMilestones"`
}

// CustomerTurnDebug is emitted for simulated customer turns.
type CustomerTurnDebug struct {
	TurnDebugBase
	Signal   Signal   `json:"signaal"`
	Attitude Attitude `json:"attitude"`
	Fallback bool     `json:"fallback,omitempty"` // reply came from the fallback line
}
