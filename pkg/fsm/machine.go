// Copyright 2024 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fsm implements a strict transition graph on top of looplab/fsm.
//
// The set of legal edges is fixed when the machine is built. Each edge may carry
// an action which runs after the destination state is committed.
package fsm

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/looplab/fsm"
)

var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidGraph      = errors.New("invalid transition graph")
)

// IllegalTransitionError is returned when the requested destination is not reachable from the current state.
type IllegalTransitionError struct {
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %q to %q", e.From, e.To)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Transition is an ordered pair of states.
type Transition[S ~string] struct {
	From S
	To   S
}

func (t Transition[S]) String() string {
	return string(t.From) + " -> " + string(t.To)
}

// Action is bound to a single edge and runs with the event that caused it.
// Actions must not call Transition on the same machine.
type Action[S ~string, E any] func(ctx context.Context, t Transition[S], ev E) error

// Edge declares a legal transition and its optional action.
type Edge[S ~string, E any] struct {
	From   S
	To     S
	Action Action[S, E]
}

type Graph[S ~string, E any] struct {
	Initial S
	States  []S
	Edges   []Edge[S, E]
}

type Machine[S ~string, E any] struct {
	mu      sync.Mutex
	f       *fsm.FSM
	states  map[S]struct{}
	actions map[Transition[S]]Action[S, E]

	// set by the enter_state callback while mu is held
	pending E
	err     error
}

// New validates the graph and builds a machine positioned at the initial state.
func New[S ~string, E any](g Graph[S, E]) (*Machine[S, E], error) {
	m := &Machine[S, E]{
		states:  make(map[S]struct{}, len(g.States)),
		actions: make(map[Transition[S]]Action[S, E], len(g.Edges)),
	}
	for _, s := range g.States {
		if s == "" {
			return nil, fmt.Errorf("%w: empty state name", ErrInvalidGraph)
		}
		if _, ok := m.states[s]; ok {
			return nil, fmt.Errorf("%w: state %q declared twice", ErrInvalidGraph, s)
		}
		m.states[s] = struct{}{}
	}
	if _, ok := m.states[g.Initial]; !ok {
		return nil, fmt.Errorf("%w: initial state %q is not declared", ErrInvalidGraph, g.Initial)
	}

	// looplab events are named after their destination
	srcs := make(map[S][]string)
	var dsts []S
	for _, e := range g.Edges {
		t := Transition[S]{From: e.From, To: e.To}
		if _, ok := m.states[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge %s uses undeclared state %q", ErrInvalidGraph, t, e.From)
		}
		if _, ok := m.states[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge %s uses undeclared state %q", ErrInvalidGraph, t, e.To)
		}
		if e.From == e.To {
			return nil, fmt.Errorf("%w: self transition %s", ErrInvalidGraph, t)
		}
		if _, ok := m.actions[t]; ok {
			return nil, fmt.Errorf("%w: duplicate edge %s", ErrInvalidGraph, t)
		}
		m.actions[t] = e.Action
		if _, ok := srcs[e.To]; !ok {
			dsts = append(dsts, e.To)
		}
		srcs[e.To] = append(srcs[e.To], string(e.From))
	}

	events := make(fsm.Events, 0, len(dsts))
	for _, dst := range dsts {
		events = append(events, fsm.EventDesc{Name: string(dst), Src: srcs[dst], Dst: string(dst)})
	}
	m.f = fsm.NewFSM(string(g.Initial), events, fsm.Callbacks{
		"enter_state": func(ctx context.Context, e *fsm.Event) {
			t := Transition[S]{From: S(e.Src), To: S(e.Dst)}
			if a := m.actions[t]; a != nil {
				m.err = a(ctx, t, m.pending)
			}
		},
	})
	return m, nil
}

// Current returns the current state.
func (m *Machine[S, E]) Current() S {
	return S(m.f.Current())
}

// Can reports whether the edge from the current state to the given one is registered.
func (m *Machine[S, E]) Can(to S) bool {
	_, ok := m.actions[Transition[S]{From: m.Current(), To: to}]
	return ok
}

// Transition moves the machine to the requested state and runs the edge action.
// The state is left unchanged when the edge is not registered.
// An error returned by the action is passed through, the state change is kept.
func (m *Machine[S, E]) Transition(ctx context.Context, to S, ev E) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.Current()
	if _, ok := m.actions[Transition[S]{From: from, To: to}]; !ok {
		return &IllegalTransitionError{From: string(from), To: string(to)}
	}

	var zero E
	m.pending, m.err = ev, nil
	defer func() { m.pending = zero }()

	if err := m.f.Event(ctx, string(to)); err != nil {
		var (
			invalid fsm.InvalidEventError
			unknown fsm.UnknownEventError
		)
		if errors.As(err, &invalid) || errors.As(err, &unknown) {
			return &IllegalTransitionError{From: string(from), To: string(to)}
		}
		return err
	}
	return m.err
}

// Transitions lists every registered edge in a stable order.
func (m *Machine[S, E]) Transitions() []Transition[S] {
	out := make([]Transition[S], 0, len(m.actions))
	for t := range m.actions {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Transition[S]) int {
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	return out
}

// Visualize renders the graph in Graphviz format.
func (m *Machine[S, E]) Visualize() string {
	return fsm.Visualize(m.f)
}
