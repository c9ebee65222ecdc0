package executor

import (
	"context"

	"github.com/proctriage/proctriage/internal/identity"
)

// fakeProc is a ProcessReader test double: no real process table access,
// just a map of pid -> (identity, state) the test mutates to simulate
// process lifecycle transitions.
type fakeProc struct {
	identities map[int]identity.Tuple
	states     map[int]byte
}

func newFakeProc() *fakeProc {
	return &fakeProc{identities: map[int]identity.Tuple{}, states: map[int]byte{}}
}

func (f *fakeProc) set(pid int, t identity.Tuple, state byte) {
	f.identities[pid] = t
	f.states[pid] = state
}

func (f *fakeProc) remove(pid int) {
	delete(f.identities, pid)
	delete(f.states, pid)
}

func (f *fakeProc) ReadIdentity(pid int) (identity.Tuple, bool) {
	t, ok := f.identities[pid]
	return t, ok
}

func (f *fakeProc) State(pid int) byte {
	return f.states[pid]
}

type fakeSupervisor struct {
	stopped []string
	err     error
}

func (f *fakeSupervisor) Stop(_ context.Context, unit string) error {
	f.stopped = append(f.stopped, unit)
	return f.err
}
