package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "town.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("TOWN_TEST_KEY", "secret-from-env")
	path := writeConfig(t, `{
		"server": {"port": 8080, "log_level": "${TOWN_TEST_LEVEL:info}"},
		"providers": [
			{"id": "main", "type": "openai", "api_key": "${TOWN_TEST_KEY}", "model": "gpt-4o-mini"}
		],
		"sim": {"tick_interval_seconds": 30, "retrieve_k": 8}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("log level = %q, want default info", cfg.Server.LogLevel)
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].APIKey != "secret-from-env" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Sim.RetrieveK != 8 {
		t.Errorf("retrieve_k = %d, want 8", cfg.Sim.RetrieveK)
	}
}

func TestLoadEmptyEnvUsesDefault(t *testing.T) {
	path := writeConfig(t, `{
		"database": {"redis": {"url": "${TOWN_TEST_UNSET_REDIS:redis://localhost:6379}"}}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Redis.URL != "redis://localhost:6379" {
		t.Errorf("redis url = %q", cfg.Database.Redis.URL)
	}
}

func TestLoadResidentsAndTown(t *testing.T) {
	path := writeConfig(t, `{
		"town": {
			"width": 48, "height": 48, "perception_radius": 5,
			"places": [{"name": "the plaza", "pos": {"x": 10, "y": 10}}]
		},
		"residents": [
			{"name": "Zix", "traits": ["curious", "patient"], "x": 10, "y": 10}
		]
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Town.Width != 48 || len(cfg.Town.Places) != 1 {
		t.Errorf("town = %+v", cfg.Town)
	}
	if len(cfg.Residents) != 1 || cfg.Residents[0].Name != "Zix" || len(cfg.Residents[0].Traits) != 2 {
		t.Errorf("residents = %+v", cfg.Residents)
	}
}

func TestLoadRetrievalTuning(t *testing.T) {
	path := writeConfig(t, `{
		"sim": {
			"relation_decay_every": 25,
			"retrieval": {
				"recency_weight": 1.0,
				"importance_weight": 1.5,
				"relevance_weight": 4.0,
				"recency_decay": 0.99
			}
		}
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sim.RelationDecayEvery != 25 {
		t.Errorf("relation_decay_every = %d, want 25", cfg.Sim.RelationDecayEvery)
	}
	r := cfg.Sim.Retrieval
	if r.RecencyWeight != 1.0 || r.ImportanceWeight != 1.5 || r.RelevanceWeight != 4.0 || r.RecencyDecay != 0.99 {
		t.Errorf("retrieval = %+v", r)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := writeConfig(t, `{"server": `)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted truncated JSON")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("Load accepted missing file")
	}
}
