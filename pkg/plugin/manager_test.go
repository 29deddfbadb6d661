package plugin

import (
	"context"
	"errors"
	"testing"
)

type fakeToolPlugin struct {
	info       Info
	configured map[string]any
	registered bool
	failStart  bool
	stopped    bool
}

func (f *fakeToolPlugin) Info() Info { return f.info }

func (f *fakeToolPlugin) Configure(cfg map[string]any) error {
	f.configured = cfg
	return nil
}

func (f *fakeToolPlugin) Init(*ExecutionContext) error { return nil }

func (f *fakeToolPlugin) Start(ctx *ExecutionContext) error {
	if f.failStart {
		return errors.New("boom")
	}
	registry, ok := ctx.Resources[ResourceToolRegistry].(map[string]bool)
	if !ok {
		return errors.New("registry resource missing")
	}
	registry["format_citation"] = true
	f.registered = true
	return nil
}

func (f *fakeToolPlugin) Stop(*ExecutionContext) error {
	f.stopped = true
	return nil
}

func TestManagerLifecycle(t *testing.T) {
	registry := map[string]bool{}
	mgr, err := NewManager(ManagerConfig{}, WithResource(ResourceToolRegistry, registry))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "citation", Category: TypeTool}}
	if err := mgr.Register("citation", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	state, err := mgr.State("citation")
	if err != nil || state != StateRegistered {
		t.Fatalf("expected registered state, got %s err %v", state, err)
	}
	if err := mgr.Start(context.Background(), "citation"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.registered || !registry["format_citation"] {
		t.Fatalf("plugin did not register its tool")
	}
	if state, _ = mgr.State("citation"); state != StateStarted {
		t.Fatalf("expected started state, got %s", state)
	}
	if err := mgr.Stop(context.Background(), "citation"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !p.stopped {
		t.Fatalf("plugin was not stopped")
	}
	if state, _ = mgr.State("citation"); state != StateStopped {
		t.Fatalf("expected stopped state, got %s", state)
	}
}

func TestManagerRejectsDuplicateRegistration(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "citation"}}
	if err := mgr.Register("citation", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Register("citation", p, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestManagerRejectsIDMismatch(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "other"}}
	if err := mgr.Register("citation", p, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected id mismatch error")
	}
}

func TestCapabilitiesRequirePolicy(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "notes", Category: TypeKnowledge, Capabilities: []Capability{CapabilityFilesystem}}}
	if err := mgr.Register("notes", p, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected policy requirement error")
	}
	policy := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityFilesystem}}
	if err := mgr.Register("notes", p, nil, policy); err != nil {
		t.Fatalf("register with policy: %v", err)
	}
}

func TestDeniedCapabilityBlocksRegistration(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "notes", Capabilities: []Capability{CapabilityNetwork}}}
	policy := IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}}
	if err := mgr.Register("notes", p, nil, policy); err == nil {
		t.Fatalf("expected denied capability error")
	}
}

func TestStartFailureCleansUp(t *testing.T) {
	mgr, err := NewManager(ManagerConfig{})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := &fakeToolPlugin{info: Info{ID: "citation"}, failStart: true}
	if err := mgr.Register("citation", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.Start(context.Background(), "citation"); err == nil {
		t.Fatalf("expected start error")
	}
	if state, _ := mgr.State("citation"); state != StateInitialised {
		t.Fatalf("expected initialised state after failed start, got %s", state)
	}
}
