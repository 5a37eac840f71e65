package generation

import (
	"context"

	"github.com/epicsales/coach/internal/domain"
)

// StaticGenerator serves the fallback lines directly, for deployments
// without a generation service and for tests.
type StaticGenerator struct{}

func (StaticGenerator) NextCustomerLine(_ context.Context, req Request) (string, error) {
	return Fallback(req.EpicPhase, req.Signal), nil
}

// Fallback returns a generic in-phase customer line, used when the
// generation service fails or times out so a slow collaborator never
// stalls the state machine.
func Fallback(epicPhase domain.EpicPhase, signal domain.Signal) string {
	lines := fallbackLines[epicPhase]
	if lines == nil {
		lines = fallbackLines[domain.PhaseExplore]
	}
	if line, ok := lines[signal]; ok {
		return line
	}
	return lines[domain.SignalNeutraal]
}

var fallbackLines = map[domain.EpicPhase]map[domain.Signal]string{
	domain.PhaseExplore: {
		domain.SignalPositief: "Goed dat u het vraagt, vertel ik u graag meer over.",
		domain.SignalNeutraal: "Dat kan ik u wel vertellen. Wat wilt u precies weten?",
		domain.SignalNegatief: "Ik heb eerlijk gezegd weinig tijd. Waar gaat dit over?",
	},
	domain.PhaseProbe: {
		domain.SignalPositief: "Interessante vraag. Daar hebben we inderdaad mee te maken.",
		domain.SignalNeutraal: "Daar moet ik even over nadenken. Het speelt wel eens.",
		domain.SignalNegatief: "Ik zie niet goed wat u daarmee wilt bereiken.",
	},
	domain.PhaseImpact: {
		domain.SignalPositief: "Als ik er zo over nadenk, kost ons dat inderdaad veel.",
		domain.SignalNeutraal: "Dat zou ik eens moeten narekenen.",
		domain.SignalNegatief: "Zo'n vaart loopt het bij ons niet.",
	},
	domain.PhaseCommit: {
		domain.SignalPositief: "Dat klinkt als een goed voorstel. Hoe ziet de volgende stap eruit?",
		domain.SignalNeutraal: "Daar wil ik intern nog even over overleggen.",
		domain.SignalNegatief: "Ik ga hier nu geen toezegging over doen.",
	},
}
