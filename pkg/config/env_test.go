package config

import "testing"

func TestGetProviderAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-anthropic")

	cases := []struct {
		provider string
		want     string
	}{
		{"openai", "sk-test-openai"},
		{"anthropic", "sk-test-anthropic"},
		{"gemini", ""},
		{"unknown", ""},
	}

	for _, tc := range cases {
		if got := GetProviderAPIKey(tc.provider); got != tc.want {
			t.Errorf("GetProviderAPIKey(%q) = %q, want %q", tc.provider, got, tc.want)
		}
	}
}

func TestExpandEnvVarsInData(t *testing.T) {
	t.Setenv("CODA_TEST_HOST", "localhost")

	data := map[string]interface{}{
		"host":    "$CODA_TEST_HOST",
		"port":    "${CODA_TEST_PORT:-8080}",
		"nested":  []interface{}{"${CODA_TEST_HOST}"},
		"literal": "no vars here",
	}

	got := ExpandEnvVarsInData(data).(map[string]interface{})

	if got["host"] != "localhost" {
		t.Errorf("host = %v, want localhost", got["host"])
	}
	if got["port"] != 8080 {
		t.Errorf("port = %v (%T), want 8080", got["port"], got["port"])
	}
	if got["literal"] != "no vars here" {
		t.Errorf("literal = %v, want unchanged", got["literal"])
	}
	nested := got["nested"].([]interface{})
	if nested[0] != "localhost" {
		t.Errorf("nested[0] = %v, want localhost", nested[0])
	}
}
