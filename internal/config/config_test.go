package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("Besturen vereniging", "Bestuur")
	if cfg.Organisation.RootTitle != "Besturen vereniging" || cfg.Organisation.RootPoints != 3000 {
		t.Fatalf("unexpected organisation %+v", cfg.Organisation)
	}
	if !cfg.IsBestuur("Bestuur") || cfg.IsBestuur("bestuur") {
		t.Fatalf("bestuur membership is exact")
	}
	if len(cfg.Governance.RootCoordinators) != 1 || cfg.Governance.RootCoordinators[0] != "Bestuur" {
		t.Fatalf("root coordinators %v", cfg.Governance.RootCoordinators)
	}
}

func TestValidateAlias(t *testing.T) {
	cfg := Default("Root", "admin")
	for _, ok := range []string{"edgar", "Anna.B", "jan_de-vries"} {
		if err := cfg.ValidateAlias(ok); err != nil {
			t.Fatalf("%s should be valid: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a", "1abc", "has space", strings.Repeat("x", 65)} {
		if err := cfg.ValidateAlias(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestFromYAMLRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing title": "governance:\n  bestuur: [admin]\n",
		"no bestuur":    "organisation:\n  root_title: Root\n",
		"bad pattern":   "organisation:\n  root_title: Root\ngovernance:\n  bestuur: [admin]\naliases:\n  pattern: '('\n",
		"webhook url":   "organisation:\n  root_title: Root\ngovernance:\n  bestuur: [admin]\nnotifications:\n  webhooks:\n    - id: x\n",
		"bad alias":     "organisation:\n  root_title: Root\ngovernance:\n  bestuur: ['9lives']\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing config should be nil,nil: %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("Load should fail without a file")
	}
	doc := strings.Replace(GenerateDefault("Club", "chair"), "  webhooks: []\n", `  webhooks:
    - id: ops
      url: http://example.invalid/hook
      events: [task_proposal.accepted]
      enabled: false
`, 1)
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Notifications.Webhooks) != 1 || cfg.Notifications.Webhooks[0].Active() {
		t.Fatalf("unexpected webhooks %+v", cfg.Notifications.Webhooks)
	}
}
