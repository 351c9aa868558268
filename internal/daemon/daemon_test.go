package daemon

import (
	"path/filepath"
	"testing"
)

func TestServiceConfig(t *testing.T) {
	args := []string{"run", "-config", "/etc/thermoboard/config.json"}
	cfg, err := serviceConfig(args)
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	if cfg.Name != ServiceName || cfg.Description != ServiceDesc {
		t.Fatalf("unexpected service identity %+v", cfg)
	}
	if !filepath.IsAbs(cfg.Executable) {
		t.Fatalf("executable path %q is not absolute", cfg.Executable)
	}
	if len(cfg.Arguments) != 3 || cfg.Arguments[0] != "run" {
		t.Fatalf("unexpected arguments %v", cfg.Arguments)
	}
}

func TestStopWithoutStart(t *testing.T) {
	p := &program{}
	if err := p.Stop(nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
