package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/rburson-acme/new-rules-sub003/core"

	_ "github.com/rburson-acme/new-rules-sub003/interpreters/exprlang"
)

var patternYAML = `
id: p1
name: double-trouble
doc: |
  Wait for e1 and e2 (in any order), then notify.
allowUnbound: true
reactions:
  - name: gather
    condition:
      type: and
      operands:
        - expr: event.type == "e1"
        - expr: event.type == "e2"
      transform:
        eventType: notify
        eventDataTemplate:
          title: both arrived
      publish:
        to: [ops]
  - name: confirm
    condition:
      expr: event.type == "ack"
`

func TestParsePatternYAML(t *testing.T) {
	ctx := context.Background()
	p, err := core.ParsePattern(ctx, []byte(patternYAML), nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Id != "p1" || !p.AllowUnbound || len(p.Reactions) != 2 {
		t.Fatalf("bad pattern %#v", p)
	}
	if p.First().Name != "gather" {
		t.Fatal(p.First().Name)
	}
	if p.First().Cond() == nil {
		t.Fatal("condition not compiled")
	}
	if got := p.First().Cond().Id(); got != "0" {
		t.Fatal(got)
	}
}

func TestParsePatternJSON(t *testing.T) {
	js := `{"id":"p2","name":"n","allowUnbound":true,
	        "reactions":[{"condition":{"expr":"event.type == \"x\""}}]}`
	p, err := core.ParsePattern(context.Background(), []byte(js), nil)
	if err != nil {
		t.Fatal(err)
	}
	// Unnamed reactions get generated names.
	if p.First().Name != "reaction-0" {
		t.Fatal(p.First().Name)
	}
}

func TestParsePatterns(t *testing.T) {
	js := `[{"id":"a","name":"a","reactions":[{"condition":{"expr":"true"}}]},
	        {"id":"b","name":"b","reactions":[{"condition":{"expr":"true"}}]}]`
	ps, err := core.ParsePatterns(context.Background(), []byte(js), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 2 {
		t.Fatal(len(ps))
	}
}

func TestPatternNext(t *testing.T) {
	p, err := core.ParsePattern(context.Background(), []byte(patternYAML), nil)
	if err != nil {
		t.Fatal(err)
	}

	// Default: advance in declaration order.
	r, err := p.Next("gather", nil)
	if err != nil || r == nil || r.Name != "confirm" {
		t.Fatal(err, r)
	}

	// Past the last reaction: finish.
	if r, err = p.Next("confirm", nil); err != nil || r != nil {
		t.Fatal(err, r)
	}

	// Named target.
	if r, err = p.Next("confirm", &core.Transition{Name: "gather"}); err != nil || r == nil || r.Name != "gather" {
		t.Fatal(err, r)
	}

	// Explicit termination.
	if r, err = p.Next("gather", &core.Transition{Name: core.TerminateReaction}); err != nil || r != nil {
		t.Fatal(err, r)
	}

	// Unknown target.
	if _, err = p.Next("gather", &core.Transition{Name: "missing"}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestParseInterval(t *testing.T) {
	d, err := core.ParseInterval("90s")
	if err != nil || d != 90*time.Second {
		t.Fatal(err, d)
	}

	// A cron expression yields the delay until its next firing.
	d, err = core.ParseInterval("0 */5 * * * * *")
	if err != nil {
		t.Fatal(err)
	}
	if d <= 0 || 5*time.Minute < d {
		t.Fatal(d)
	}

	if _, err = core.ParseInterval("whenever"); err == nil {
		t.Fatal("expected an error")
	}
	if _, err = core.ParseInterval("-5s"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestPatternStore(t *testing.T) {
	ps := core.NewPatternStore()
	p, err := core.ParsePattern(context.Background(), []byte(patternYAML), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Add(p); err != nil {
		t.Fatal(err)
	}
	got, err := ps.Find("p1")
	if err != nil || got != p {
		t.Fatal(err, got)
	}
	if _, err = ps.Find("nope"); err == nil {
		t.Fatal("expected UnknownPattern")
	}
	if ps.Loaded().IsZero() {
		t.Fatal("expected a staleness timestamp")
	}

	// An uncompiled Pattern is refused.
	if err := ps.Add(&core.Pattern{Id: "raw", Name: "raw"}); err == nil {
		t.Fatal("expected NotCompiled")
	}
}
