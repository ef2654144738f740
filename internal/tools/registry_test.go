package tools

import (
	"context"
	"testing"
)

func TestRegistryRegisterValidatesNames(t *testing.T) {
	r := NewRegistry()
	ok := Definition{Name: "my-tool_v1.2:x", Run: func(RunContext, map[string]interface{}) Result { return Ok(nil) }}
	if err := r.Register(ok); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
	bad := Definition{Name: "has space", Run: ok.Run}
	if err := r.Register(bad); err == nil {
		t.Fatalf("invalid name accepted")
	}
	if err := r.Register(Definition{Name: "norun"}); err == nil {
		t.Fatalf("missing run function accepted")
	}
}

func TestRegistryDuplicateReplaces(t *testing.T) {
	r := NewRegistry()
	first := func(RunContext, map[string]interface{}) Result { return Ok("first") }
	second := func(RunContext, map[string]interface{}) Result { return Ok("second") }
	if err := r.Register(Definition{Name: "t", Run: first}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(Definition{Name: "t", Run: second}); err != nil {
		t.Fatal(err)
	}
	if n := len(r.List()); n != 1 {
		t.Fatalf("list length = %d, want 1", n)
	}
	res := r.Execute(context.Background(), Call{Name: "t"})
	if res.Output != "second" {
		t.Fatalf("replacement did not win: %+v", res)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), Call{Name: "ghost"})
	if res.OK {
		t.Fatalf("unknown tool returned ok")
	}
	out, ok := res.Output.(map[string]interface{})
	if !ok || out["status"] != StatusNotFound {
		t.Fatalf("output = %+v", res.Output)
	}
}

func TestRegistryPanicBecomesFailure(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Definition{Name: "boom", Run: func(RunContext, map[string]interface{}) Result {
		panic("kaboom")
	}})
	res := r.Execute(context.Background(), Call{Name: "boom"})
	if res.OK {
		t.Fatalf("panicking tool returned ok")
	}
	if res.Error == "" {
		t.Fatalf("panic failure missing error message")
	}
}

func TestRegistryListPreservesOrder(t *testing.T) {
	r := NewRegistry()
	run := func(RunContext, map[string]interface{}) Result { return Ok(nil) }
	for _, name := range []string{"c", "a", "b"} {
		_ = r.Register(Definition{Name: name, Run: run})
	}
	defs := r.List()
	if defs[0].Name != "c" || defs[1].Name != "a" || defs[2].Name != "b" {
		t.Fatalf("order = %v", []string{defs[0].Name, defs[1].Name, defs[2].Name})
	}
}
