package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_EnvironmentWinsOverFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"VOICECORE_ADDR=:9000\n" +
		"export VOICECORE_OPENAI_MODEL=gpt-4o\n" +
		"VOICECORE_REDIS_URL=\"redis://localhost:6379/0\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("VOICECORE_ADDR", ":8080")
	t.Setenv("VOICECORE_OPENAI_MODEL", "")
	os.Unsetenv("VOICECORE_OPENAI_MODEL")
	t.Setenv("VOICECORE_REDIS_URL", "")
	os.Unsetenv("VOICECORE_REDIS_URL")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("VOICECORE_ADDR"); got != ":8080" {
		t.Fatalf("VOICECORE_ADDR=%q, want existing value preserved", got)
	}
	if got := os.Getenv("VOICECORE_OPENAI_MODEL"); got != "gpt-4o" {
		t.Fatalf("VOICECORE_OPENAI_MODEL=%q", got)
	}
	if got := os.Getenv("VOICECORE_REDIS_URL"); got != "redis://localhost:6379/0" {
		t.Fatalf("VOICECORE_REDIS_URL=%q, want quotes stripped", got)
	}
}

func TestParseLine(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		key     string
		val     string
		skipped bool
	}{
		{in: "KEY=value", key: "KEY", val: "value"},
		{in: "  KEY =  value ", key: "KEY", val: "value"},
		{in: "export KEY=value", key: "KEY", val: "value"},
		{in: `KEY="a b"`, key: "KEY", val: "a b"},
		{in: "KEY='a b'", key: "KEY", val: "a b"},
		{in: "KEY=", key: "KEY", val: ""},
		{in: "# comment", skipped: true},
		{in: "", skipped: true},
		{in: "not a pair", skipped: true},
		{in: "=value", skipped: true},
	}
	for _, tc := range cases {
		key, val, ok := parseLine(tc.in)
		if tc.skipped {
			if ok {
				t.Fatalf("parseLine(%q) parsed unexpectedly", tc.in)
			}
			continue
		}
		if !ok || key != tc.key || val != tc.val {
			t.Fatalf("parseLine(%q) = %q, %q, %v", tc.in, key, val, ok)
		}
	}
}
