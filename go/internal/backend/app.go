package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/relay/go/internal/events"
	"github.com/mcdev12/relay/go/internal/models"
	"github.com/mcdev12/relay/go/internal/realtime"
	"github.com/mcdev12/relay/go/internal/remote"
)

// Broadcast types sent after writes
const (
	BroadcastRunners = "runners"
	BroadcastLegs    = "legs"
)

// App handles the shared race store's business logic
type App struct {
	repo      Repository
	publisher realtime.Publisher
	clock     clockwork.Clock
}

// NewApp creates a new App. publisher may be nil when no realtime channel is
// configured.
func NewApp(repo Repository, publisher realtime.Publisher, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{repo: repo, publisher: publisher, clock: clock}
}

// UpsertRunners writes each runner, resolving by id and then by number so a
// replayed create never produces a duplicate.
func (a *App) UpsertRunners(ctx context.Context, req remote.UpsertRunnersRequest) ([]remote.RunnerRecord, error) {
	if err := validateScope(req.TeamID, req.Action); err != nil {
		return nil, err
	}
	for _, r := range req.Runners {
		if err := validateRunner(r); err != nil {
			return nil, err
		}
	}

	out := make([]remote.RunnerRecord, 0, len(req.Runners))
	for _, incoming := range req.Runners {
		existing, found, err := a.resolveRunner(ctx, req.TeamID, incoming)
		if err != nil {
			return nil, err
		}
		if incoming.UpdatedAt == "" {
			incoming.UpdatedAt = remote.FormatTime(a.clock.Now())
		}

		if found {
			incoming.ID = existing.ID
			if newerThan(existing.UpdatedAt, incoming.UpdatedAt) {
				log.Debug().Str("team_id", req.TeamID).Str("runner_id", existing.ID).Msg("keeping newer stored runner")
				out = append(out, existing)
				continue
			}
		} else if incoming.ID == "" {
			incoming.ID = uuid.NewString()
		}

		if err := a.repo.SaveRunner(ctx, req.TeamID, incoming); err != nil {
			return nil, fmt.Errorf("failed to save runner %d: %w", incoming.Number, err)
		}
		out = append(out, incoming)
	}

	a.broadcast(ctx, req.TeamID, BroadcastRunners, req.Action, req.DeviceID)
	return out, nil
}

// UpsertLegs writes each leg. A runner reference must name a stored runner.
func (a *App) UpsertLegs(ctx context.Context, req remote.UpsertLegsRequest) ([]remote.LegRecord, error) {
	if err := validateScope(req.TeamID, req.Action); err != nil {
		return nil, err
	}
	for _, l := range req.Legs {
		if err := validateLeg(l); err != nil {
			return nil, err
		}
	}

	out := make([]remote.LegRecord, 0, len(req.Legs))
	for _, incoming := range req.Legs {
		if incoming.RunnerID != "" {
			if _, err := a.repo.GetRunner(ctx, req.TeamID, incoming.RunnerID); err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil, fmt.Errorf("runner %s: %w", incoming.RunnerID, remote.ErrNotFound)
				}
				return nil, fmt.Errorf("failed to get runner: %w", err)
			}
		}

		existing, found, err := a.resolveLeg(ctx, req.TeamID, incoming)
		if err != nil {
			return nil, err
		}
		if incoming.UpdatedAt == "" {
			incoming.UpdatedAt = remote.FormatTime(a.clock.Now())
		}

		if found {
			incoming.ID = existing.ID
			if newerThan(existing.UpdatedAt, incoming.UpdatedAt) {
				log.Debug().Str("team_id", req.TeamID).Str("leg_id", existing.ID).Msg("keeping newer stored leg")
				out = append(out, existing)
				continue
			}
		} else if incoming.ID == "" {
			incoming.ID = uuid.NewString()
		}

		if err := a.repo.SaveLeg(ctx, req.TeamID, incoming); err != nil {
			return nil, fmt.Errorf("failed to save leg %d: %w", incoming.Number, err)
		}
		out = append(out, incoming)
	}

	a.broadcast(ctx, req.TeamID, BroadcastLegs, req.Action, req.DeviceID)
	return out, nil
}

func (a *App) ListRunners(ctx context.Context, req remote.ListRequest) ([]remote.RunnerRecord, error) {
	if req.TeamID == "" {
		return nil, &remote.ValidationError{Message: "team_id is required"}
	}
	runners, err := a.repo.ListRunners(ctx, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runners: %w", err)
	}
	return runners, nil
}

func (a *App) ListLegs(ctx context.Context, req remote.ListRequest) ([]remote.LegRecord, error) {
	if req.TeamID == "" {
		return nil, &remote.ValidationError{Message: "team_id is required"}
	}
	legs, err := a.repo.ListLegs(ctx, req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list legs: %w", err)
	}
	return legs, nil
}

func (a *App) resolveRunner(ctx context.Context, teamID string, r remote.RunnerRecord) (remote.RunnerRecord, bool, error) {
	if r.ID != "" {
		existing, err := a.repo.GetRunner(ctx, teamID, r.ID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return remote.RunnerRecord{}, false, fmt.Errorf("failed to get runner: %w", err)
		}
	}
	existing, err := a.repo.FindRunnerByNumber(ctx, teamID, r.Number)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return remote.RunnerRecord{}, false, nil
	}
	return remote.RunnerRecord{}, false, fmt.Errorf("failed to find runner: %w", err)
}

func (a *App) resolveLeg(ctx context.Context, teamID string, l remote.LegRecord) (remote.LegRecord, bool, error) {
	if l.ID != "" {
		existing, err := a.repo.GetLeg(ctx, teamID, l.ID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return remote.LegRecord{}, false, fmt.Errorf("failed to get leg: %w", err)
		}
	}
	existing, err := a.repo.FindLegByNumber(ctx, teamID, l.Number)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return remote.LegRecord{}, false, nil
	}
	return remote.LegRecord{}, false, fmt.Errorf("failed to find leg: %w", err)
}

// broadcast failures are logged; the write already succeeded
func (a *App) broadcast(ctx context.Context, teamID, typ string, action remote.Action, deviceID string) {
	if a.publisher == nil {
		return
	}
	b := events.Broadcast{
		Type:      typ,
		Action:    string(action),
		DeviceID:  deviceID,
		Timestamp: remote.FormatTime(a.clock.Now()),
	}
	if err := a.publisher.Publish(ctx, teamID, b); err != nil {
		log.Warn().Err(err).Str("team_id", teamID).Str("type", typ).Msg("failed to broadcast change")
	}
}

// newerThan reports whether stored is strictly newer than incoming. Unparseable
// stamps never block a write.
func newerThan(stored, incoming string) bool {
	if stored == "" || incoming == "" {
		return false
	}
	s, err := remote.ParseTime(stored)
	if err != nil {
		return false
	}
	i, err := remote.ParseTime(incoming)
	if err != nil {
		return false
	}
	return s.After(i)
}

func validateScope(teamID string, action remote.Action) error {
	if teamID == "" {
		return &remote.ValidationError{Message: "team_id is required"}
	}
	if !action.Valid() {
		return &remote.ValidationError{Message: fmt.Sprintf("unknown action %q", action)}
	}
	return nil
}

func validateRunner(r remote.RunnerRecord) error {
	switch {
	case r.Number <= 0:
		return &remote.ValidationError{Message: "runner number must be positive"}
	case r.PaceSeconds <= 0:
		return &remote.ValidationError{Message: fmt.Sprintf("runner %d: pace must be positive", r.Number)}
	case r.Van != models.VanOne && r.Van != models.VanTwo:
		return &remote.ValidationError{Message: fmt.Sprintf("runner %d: van must be 1 or 2", r.Number)}
	}
	return validateStamp(r.UpdatedAt)
}

func validateLeg(l remote.LegRecord) error {
	if l.Number <= 0 {
		return &remote.ValidationError{Message: "leg number must be positive"}
	}
	if l.Distance <= 0 {
		return &remote.ValidationError{Message: fmt.Sprintf("leg %d: distance must be positive", l.Number)}
	}
	if l.PaceOverrideSeconds != nil && *l.PaceOverrideSeconds <= 0 {
		return &remote.ValidationError{Message: fmt.Sprintf("leg %d: pace override must be positive", l.Number)}
	}
	var start, finish time.Time
	var err error
	if l.ActualStart != nil {
		if start, err = remote.ParseTime(*l.ActualStart); err != nil {
			return &remote.ValidationError{Message: fmt.Sprintf("leg %d: bad actual_start: %v", l.Number, err)}
		}
	}
	if l.ActualFinish != nil {
		if finish, err = remote.ParseTime(*l.ActualFinish); err != nil {
			return &remote.ValidationError{Message: fmt.Sprintf("leg %d: bad actual_finish: %v", l.Number, err)}
		}
	}
	if l.ActualStart != nil && l.ActualFinish != nil && finish.Before(start) {
		return &remote.ValidationError{Message: fmt.Sprintf("leg %d: finish before start", l.Number)}
	}
	return validateStamp(l.UpdatedAt)
}

func validateStamp(s string) error {
	if s == "" {
		return nil
	}
	if _, err := remote.ParseTime(s); err != nil {
		return &remote.ValidationError{Message: fmt.Sprintf("bad updated_at: %v", err)}
	}
	return nil
}
