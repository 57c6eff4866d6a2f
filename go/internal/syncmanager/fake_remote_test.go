package syncmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/relay/go/internal/remote"
)

// fakeRemote is an in-memory remote store keyed by remote id
type fakeRemote struct {
	mu      sync.Mutex
	runners map[string]remote.RunnerRecord
	legs    map[string]remote.LegRecord
	calls   []string
	nextID  int

	err       error         // returned by every call when set
	listGate  chan struct{} // when set, ListRunners blocks until it is closed
	listEnter chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		runners: make(map[string]remote.RunnerRecord),
		legs:    make(map[string]remote.LegRecord),
	}
}

func (f *fakeRemote) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRemote) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeRemote) UpsertRunners(_ context.Context, req remote.UpsertRunnersRequest) ([]remote.RunnerRecord, error) {
	if err := f.record(fmt.Sprintf("runners-upsert:%s", req.Action)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.RunnerRecord, 0, len(req.Runners))
	for _, r := range req.Runners {
		if r.ID == "" {
			for id, existing := range f.runners {
				if existing.Number == r.Number {
					r.ID = id
				}
			}
		}
		if r.ID == "" {
			f.nextID++
			r.ID = fmt.Sprintf("runner-%d", f.nextID)
		}
		f.runners[r.ID] = r
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRemote) UpsertLegs(_ context.Context, req remote.UpsertLegsRequest) ([]remote.LegRecord, error) {
	if err := f.record(fmt.Sprintf("legs-upsert:%s", req.Action)); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.LegRecord, 0, len(req.Legs))
	for _, l := range req.Legs {
		if l.RunnerID != "" {
			if _, ok := f.runners[l.RunnerID]; !ok {
				return nil, fmt.Errorf("runner %s: %w", l.RunnerID, remote.ErrNotFound)
			}
		}
		if l.ID == "" {
			for id, existing := range f.legs {
				if existing.Number == l.Number {
					l.ID = id
				}
			}
		}
		if l.ID == "" {
			f.nextID++
			l.ID = fmt.Sprintf("leg-%d", f.nextID)
		}
		f.legs[l.ID] = l
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeRemote) ListRunners(ctx context.Context, _ remote.ListRequest) ([]remote.RunnerRecord, error) {
	if err := f.record("runners-list"); err != nil {
		return nil, err
	}
	if f.listGate != nil {
		f.listEnter <- struct{}{}
		select {
		case <-f.listGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.RunnerRecord, 0, len(f.runners))
	for _, r := range f.runners {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeRemote) ListLegs(_ context.Context, _ remote.ListRequest) ([]remote.LegRecord, error) {
	if err := f.record("legs-list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.LegRecord, 0, len(f.legs))
	for _, l := range f.legs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (f *fakeRemote) putLeg(l remote.LegRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legs[l.ID] = l
}

func (f *fakeRemote) putRunner(r remote.RunnerRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runners[r.ID] = r
}
