package conflict

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/relay/go/internal/models"
)

// Action is the human (or suggested) answer to a conflict
type Action string

const (
	ActionAcceptIncoming Action = "accept_incoming"
	ActionKeepLocal      Action = "keep_local"
	ActionManual         Action = "manual"
)

var ErrInvalidDecision = errors.New("invalid conflict decision")

// Decision resolves one Record. Value is only read for ActionManual.
type Decision struct {
	Action Action
	Value  *time.Time
}

// ChosenValue returns the timestamp the decision selects for rec's field
func (d Decision) ChosenValue(rec Record) (*time.Time, error) {
	switch d.Action {
	case ActionAcceptIncoming:
		return rec.IncomingValue(), nil
	case ActionKeepLocal:
		return rec.LocalValue(), nil
	case ActionManual:
		if d.Value == nil {
			return nil, fmt.Errorf("%w: manual resolution needs a value", ErrInvalidDecision)
		}
		v := *d.Value
		return &v, nil
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
}

// Resolution is the leg a decision produces and the pending records it settles
type Resolution struct {
	Leg     models.Leg
	Settled []uuid.UUID
}

// Apply builds the leg that results from deciding rec, starting from the leg
// currently held locally. The chosen value goes into the disputed field and
// the rest of the incoming record is merged in. Local edits made after
// detection win, and so do fields still awaiting their own decision.
// If the result is inconsistent, accept-incoming and keep-local settle the
// leg's other pending records the same way and take the chosen side's timing
// as a whole. A manual value that cannot be applied is rejected.
func (r *Resolver) Apply(rec Record, d Decision, current models.Leg, pending []Record) (Resolution, error) {
	chosen, err := d.ChosenValue(rec)
	if err != nil {
		return Resolution{}, err
	}

	settled := map[models.TimingField]*time.Time{rec.Field: chosen}
	ids := []uuid.UUID{rec.ID}
	held := make(map[models.TimingField]Record)
	for _, p := range pending {
		if p.ID == rec.ID || p.LegID != rec.LegID || p.Field == rec.Field {
			continue
		}
		held[p.Field] = p
	}

	leg := r.compose(rec, current, settled, held, nil)
	verr := leg.Validate()
	if verr == nil {
		return Resolution{Leg: leg, Settled: ids}, nil
	}
	if d.Action == ActionManual {
		return Resolution{}, fmt.Errorf("%w: %w", ErrInvalidDecision, verr)
	}

	for field, p := range held {
		v, err := d.ChosenValue(p)
		if err != nil {
			return Resolution{}, err
		}
		settled[field] = v
		ids = append(ids, p.ID)
	}
	side := rec.Incoming
	if d.Action == ActionKeepLocal {
		side = rec.Local
	}
	leg = r.compose(rec, current, settled, nil, &side)
	if err := leg.Validate(); err != nil {
		return Resolution{}, fmt.Errorf("%w: %w", ErrInvalidDecision, err)
	}
	return Resolution{Leg: leg, Settled: ids}, nil
}

// compose merges rec.Incoming into current. With side set, timing fields not
// settled by the decision are copied from side.
func (r *Resolver) compose(rec Record, current models.Leg, settled map[models.TimingField]*time.Time, held map[models.TimingField]Record, side *models.Leg) models.Leg {
	in := rec.Incoming
	next := current.Clone()

	if current.Distance == rec.Local.Distance {
		next.Distance = in.Distance
	}
	if sameDuration(current.PaceOverride, rec.Local.PaceOverride) {
		next.PaceOverride = nil
		if in.PaceOverride != nil {
			p := *in.PaceOverride
			next.PaceOverride = &p
		}
	}
	if current.RunnerID == rec.Local.RunnerID {
		next.RunnerID = in.RunnerID
	}
	if next.RemoteID == "" {
		next.RemoteID = in.RemoteID
	}

	for _, field := range models.TimingFields {
		if v, ok := settled[field]; ok {
			next.SetActual(field, v)
			continue
		}
		if _, ok := held[field]; ok {
			continue
		}
		if side != nil {
			next.SetActual(field, side.Actual(field))
			continue
		}
		// a field disputed in the same record was decided or skipped already
		if r.Conflicting(rec.Local.Actual(field), in.Actual(field)) {
			continue
		}
		if in.Actual(field) != nil && models.SameTime(current.Actual(field), rec.Local.Actual(field)) {
			next.SetActual(field, in.Actual(field))
		}
	}
	return next
}

func sameDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
