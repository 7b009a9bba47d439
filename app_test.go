package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// AppConfig validation
// ---------------------------------------------------------------------------

func TestAppValidate_Accepts(t *testing.T) {
	if err := testApp().validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestAppValidate_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*AppConfig)
		wantSub string
	}{
		{"unknown type", func(a *AppConfig) { a.Components[0].Type = "hologram" }, "unknown type"},
		{"duplicate id", func(a *AppConfig) { a.Components[1].ID = 1 }, "duplicate"},
		{"unknown input ref", func(a *AppConfig) { a.Functions[0].Inputs = []int{99} }, "unknown input"},
		{"unknown output ref", func(a *AppConfig) { a.Functions[0].Outputs = []int{99} }, "unknown output"},
		{"no functions", func(a *AppConfig) { a.Functions = nil }, "no functions"},
		{"example arity", func(a *AppConfig) { a.Examples = [][]any{{"a", "b"}} }, "example"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := testApp()
			tc.mutate(app)
			err := app.validate()
			if err == nil {
				t.Fatal("want validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantSub)
			}
		})
	}
}

func TestStatefulDefaults(t *testing.T) {
	state := testApp().statefulDefaults()
	if len(state) != 1 {
		t.Fatalf("got %d stateful defaults, want 1", len(state))
	}
	if state[3] != "seed" {
		t.Errorf("state[3] = %v, want the declared default", state[3])
	}
}

func TestFunctionIndexBounds(t *testing.T) {
	app := testApp()
	if _, err := app.function(0); err != nil {
		t.Errorf("index 0: %v", err)
	}
	for _, idx := range []int{-1, 1, 100} {
		if _, err := app.function(idx); err == nil {
			t.Errorf("index %d accepted, want error", idx)
		}
	}
}

// ---------------------------------------------------------------------------
// Served documents
// ---------------------------------------------------------------------------

func TestReducedDocument(t *testing.T) {
	app := testApp()
	app.AuthMessage = "members only"
	doc := app.reducedDocument()
	if doc["auth_required"] != true {
		t.Error("auth_required must be true")
	}
	if doc["auth_message"] != "members only" {
		t.Errorf("auth_message = %v", doc["auth_message"])
	}
	if len(doc) != 2 {
		t.Errorf("reduced document has %d keys, want exactly 2", len(doc))
	}
}

func TestConfigDocument_AuthFlag(t *testing.T) {
	app := testApp()
	if got := app.configDocument(true)["auth_required"]; got != true {
		t.Errorf("auth_required = %v, want true", got)
	}
	if got := app.configDocument(false)["auth_required"]; got != false {
		t.Errorf("auth_required = %v, want false", got)
	}
}

// ---------------------------------------------------------------------------
// loadAppConfig
// ---------------------------------------------------------------------------

func TestLoadAppConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	if err := os.WriteFile(path, []byte(sampleAppJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	app, err := loadAppConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if app.Title != "Echo" || len(app.Functions) != 1 {
		t.Errorf("loaded %q with %d functions", app.Title, len(app.Functions))
	}
}

func TestLoadAppConfig_InvalidRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.json")
	bad := `{"components":[{"id":1,"type":"warp-drive"}],"functions":[{"inputs":[1],"outputs":[1]}]}`
	if err := os.WriteFile(path, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadAppConfig(path); err == nil {
		t.Error("unknown component type must be a load-time error")
	}
}
