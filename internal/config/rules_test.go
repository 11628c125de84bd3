package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/local/imagecleaner/internal/pipeline"
)

func TestLoadRulesMissingFileUsesDefaults(t *testing.T) {
	rules := LoadRules(filepath.Join(t.TempDir(), "absent.json"))
	if !rules.QR || rules.Repeated || rules.Corners {
		t.Fatalf("defaults = %+v, want QR only", rules)
	}
}

func TestLoadRulesCorruptFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	rules := LoadRules(path)
	if rules != pipeline.DefaultRules() {
		t.Fatalf("corrupt file: rules = %+v, want defaults", rules)
	}
}

func TestSaveAndLoadRulesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	want := pipeline.RuleConfig{QR: false, Repeated: true, Corners: true}
	if err := SaveRules(path, want); err != nil {
		t.Fatalf("SaveRules: %v", err)
	}
	if got := LoadRules(path); got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestSaveRulesOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := SaveRules(path, pipeline.RuleConfig{QR: true}); err != nil {
		t.Fatal(err)
	}
	want := pipeline.RuleConfig{Corners: true}
	if err := SaveRules(path, want); err != nil {
		t.Fatal(err)
	}
	if got := LoadRules(path); got != want {
		t.Fatalf("after overwrite = %+v, want %+v", got, want)
	}
}
