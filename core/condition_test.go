package core_test

import (
	"context"
	"testing"

	"github.com/rburson-acme/new-rules-sub003/core"

	_ "github.com/rburson-acme/new-rules-sub003/interpreters/exprlang"

	. "github.com/rburson-acme/new-rules-sub003/util/testutil"
)

func compileCondition(t *testing.T, m *core.ConditionModel) core.Condition {
	t.Helper()
	c, err := core.NewCondition(context.Background(), m, "0", nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func typed(eventType string) *core.Event {
	return core.NewEvent(eventType, &core.EventSource{Id: "s1"}, &core.EventData{
		Content: map[string]interface{}{"v": 42},
	})
}

func TestFilterCondition(t *testing.T) {
	c := compileCondition(t, &core.ConditionModel{
		Type: core.FilterType,
		Expr: `event.type == "e1"`,
	})
	ctx := context.Background()

	st := core.NewMatchState("t1")
	ds, err := c.Apply(ctx, typed("e1"), st)
	if err != nil {
		t.Fatal(err)
	}
	if ds == nil {
		t.Fatal("expected a match")
	}

	ds, err = c.Apply(ctx, typed("nope"), st)
	if err != nil {
		t.Fatal(err)
	}
	if ds != nil {
		t.Fatal("expected no match")
	}
}

func TestFilterOnTrue(t *testing.T) {
	c := compileCondition(t, &core.ConditionModel{
		Type:   core.FilterType,
		Expr:   `event.type == "e1"`,
		OnTrue: `set("seen", event.id)`,
	})
	ctx := context.Background()
	st := core.NewMatchState("t1")

	ev := typed("e1")
	if ds, err := c.Apply(ctx, ev, st); err != nil || ds == nil {
		t.Fatal(err, JS(ds))
	}
	if got := st.Scope["seen"]; got != ev.Id {
		t.Fatalf("got %v, wanted %s", got, ev.Id)
	}
}

func andOfTwo() *core.ConditionModel {
	return &core.ConditionModel{
		Type: core.AndType,
		Operands: []*core.ConditionModel{
			{Type: core.FilterType, Expr: `event.type == "e1"`},
			{Type: core.FilterType, Expr: `event.type == "e2"`},
		},
	}
}

func TestAndAnyOrder(t *testing.T) {
	ctx := context.Background()

	orders := [][]string{
		{"e1", "e2"},
		{"e2", "e1"},
	}

	for _, order := range orders {
		c := compileCondition(t, andOfTwo())
		st := core.NewMatchState("t1")

		ds, err := c.Apply(ctx, typed(order[0]), st)
		if err != nil {
			t.Fatal(err)
		}
		if ds != nil {
			t.Fatalf("%v: matched too early", order)
		}

		// Partial progress is recorded under the node's id.
		vec := st.Progress.Vector("0", 2)
		trues := 0
		for _, b := range vec {
			if b {
				trues++
			}
		}
		if trues != 1 {
			t.Fatalf("%v: progress %v", order, vec)
		}

		// A repeat of the same event doesn't complete the
		// conjunction.
		if ds, err = c.Apply(ctx, typed(order[0]), st); err != nil || ds != nil {
			t.Fatal(err, JS(ds))
		}

		if ds, err = c.Apply(ctx, typed(order[1]), st); err != nil {
			t.Fatal(err)
		}
		if ds == nil {
			t.Fatalf("%v: expected a match on the second event", order)
		}
	}
}

func TestAndOwnDirectives(t *testing.T) {
	// The conjunction's own directives, not an operand's, describe
	// the overall match.
	m := andOfTwo()
	m.Transform = &core.Transform{EventType: "own", Expr: `"ok"`}
	m.Operands[0].Transform = &core.Transform{EventType: "operand", Expr: `"no"`}

	c := compileCondition(t, m)
	ctx := context.Background()
	st := core.NewMatchState("t1")

	if _, err := c.Apply(ctx, typed("e1"), st); err != nil {
		t.Fatal(err)
	}
	ds, err := c.Apply(ctx, typed("e2"), st)
	if err != nil {
		t.Fatal(err)
	}
	if ds == nil {
		t.Fatal("expected a match")
	}
	if ds.Transform == nil || ds.Transform.EventType != "own" {
		t.Fatalf("got %s", JS(ds.Transform))
	}
}

func TestOrShortCircuit(t *testing.T) {
	c := compileCondition(t, &core.ConditionModel{
		Type: core.OrType,
		Operands: []*core.ConditionModel{
			{Type: core.FilterType, Expr: `event.type == "e1"`, OnTrue: `set("first", true)`},
			{Type: core.FilterType, Expr: `true`, OnTrue: `set("second", true)`},
		},
	})
	ctx := context.Background()
	st := core.NewMatchState("t1")

	ds, err := c.Apply(ctx, typed("e1"), st)
	if err != nil {
		t.Fatal(err)
	}
	if ds == nil {
		t.Fatal("expected a match")
	}
	if _, have := st.Scope["second"]; have {
		t.Fatal("second operand should not have run")
	}
}

func TestOrDeepestWins(t *testing.T) {
	m := &core.ConditionModel{
		Type:       core.OrType,
		Transition: &core.Transition{Name: "parent"},
		Transform:  &core.Transform{EventType: "parent", Expr: `"p"`},
		Operands: []*core.ConditionModel{
			{
				Type:       core.FilterType,
				Expr:       `event.type == "e1"`,
				Transition: &core.Transition{Name: "kid"},
			},
		},
	}
	c := compileCondition(t, m)
	ctx := context.Background()

	ds, err := c.Apply(ctx, typed("e1"), core.NewMatchState("t1"))
	if err != nil {
		t.Fatal(err)
	}
	if ds == nil {
		t.Fatal("expected a match")
	}
	if ds.Transition == nil || ds.Transition.Name != "kid" {
		t.Fatalf("got %s", JS(ds.Transition))
	}
	// The kid has no transform, so the parent's survives.
	if ds.Transform == nil || ds.Transform.EventType != "parent" {
		t.Fatalf("got %s", JS(ds.Transform))
	}
}

func TestAndUnderOr(t *testing.T) {
	// An and-node nested under an or keeps its own progress across
	// events.
	c := compileCondition(t, &core.ConditionModel{
		Type: core.OrType,
		Operands: []*core.ConditionModel{
			{Type: core.FilterType, Expr: `event.type == "short"`},
			andOfTwo(),
		},
	})
	ctx := context.Background()
	st := core.NewMatchState("t1")

	if ds, err := c.Apply(ctx, typed("e1"), st); err != nil || ds != nil {
		t.Fatal(err, JS(ds))
	}
	ds, err := c.Apply(ctx, typed("e2"), st)
	if err != nil {
		t.Fatal(err)
	}
	if ds == nil {
		t.Fatal("expected the nested and to complete")
	}
}

func TestConditionTest(t *testing.T) {
	c := compileCondition(t, andOfTwo())
	ctx := context.Background()
	st := core.NewMatchState("")

	ok, err := c.Test(ctx, typed("e2"), st)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("e2 should be acceptable here")
	}
	// Test records nothing.
	if 0 < len(st.Progress.Vectors) {
		t.Fatalf("test mutated progress: %s", JS(st.Progress))
	}

	if ok, err = c.Test(ctx, typed("other"), st); err != nil || ok {
		t.Fatal(err, ok)
	}
}
