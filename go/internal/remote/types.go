package remote

// Procedure names served by the relay backend
const (
	ServiceName = "relay.v1.RaceService"

	ProcedureRunnersUpsert = "/" + ServiceName + "/RunnersUpsert"
	ProcedureLegsUpsert    = "/" + ServiceName + "/LegsUpsert"
	ProcedureRunnersList   = "/" + ServiceName + "/RunnersList"
	ProcedureLegsList      = "/" + ServiceName + "/LegsList"
)

// Action tells the backend whether the caller expects to create or update
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate
}

// RunnerRecord is the wire shape of a runner. ID is the remote identifier,
// Number the team-local runner id.
type RunnerRecord struct {
	ID          string  `json:"id,omitempty"`
	Number      int     `json:"number"`
	Name        string  `json:"name"`
	PaceSeconds float64 `json:"pace_seconds"`
	Van         int     `json:"van"`
	UpdatedAt   string  `json:"updated_at,omitempty"`
}

// LegRecord is the wire shape of a leg. RunnerID references the runner's
// remote identifier; empty means unassigned.
type LegRecord struct {
	ID                  string   `json:"id,omitempty"`
	Number              int      `json:"number"`
	RunnerID            string   `json:"runner_id,omitempty"`
	Distance            float64  `json:"distance"`
	ActualStart         *string  `json:"actual_start,omitempty"`
	ActualFinish        *string  `json:"actual_finish,omitempty"`
	PaceOverrideSeconds *float64 `json:"pace_override_seconds,omitempty"`
	UpdatedAt           string   `json:"updated_at,omitempty"`
}

type UpsertRunnersRequest struct {
	TeamID   string         `json:"team_id"`
	DeviceID string         `json:"device_id"`
	Action   Action         `json:"action"`
	Runners  []RunnerRecord `json:"runners"`
}

type UpsertRunnersResponse struct {
	Runners []RunnerRecord `json:"runners"`
}

type UpsertLegsRequest struct {
	TeamID   string      `json:"team_id"`
	DeviceID string      `json:"device_id"`
	Action   Action      `json:"action"`
	Legs     []LegRecord `json:"legs"`
}

type UpsertLegsResponse struct {
	Legs []LegRecord `json:"legs"`
}

type ListRequest struct {
	TeamID   string `json:"team_id"`
	DeviceID string `json:"device_id"`
}

type ListRunnersResponse struct {
	Runners []RunnerRecord `json:"runners"`
}

type ListLegsResponse struct {
	Legs []LegRecord `json:"legs"`
}
