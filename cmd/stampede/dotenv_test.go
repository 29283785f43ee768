// ABOUTME: Tests for the .env loader: parsing, quoting, and no-clobber semantics.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnvParsesAndQuotes(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `
# comment
PLAIN=value
QUOTED="with spaces"
SINGLE='single quoted'
export EXPORTED=yes
WITH_EQUALS=a=b=c
MALFORMED LINE
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"PLAIN", "QUOTED", "SINGLE", "EXPORTED", "WITH_EQUALS"} {
		os.Unsetenv(key)
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	loadDotEnv(path)

	cases := map[string]string{
		"PLAIN":       "value",
		"QUOTED":      "with spaces",
		"SINGLE":      "single quoted",
		"EXPORTED":    "yes",
		"WITH_EQUALS": "a=b=c",
	}
	for key, want := range cases {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
}

func TestLoadDotEnvDoesNotClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("KEEP_ME=from_file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KEEP_ME", "from_environment")

	loadDotEnv(path)

	if got := os.Getenv("KEEP_ME"); got != "from_environment" {
		t.Errorf("KEEP_ME = %q, existing environment should win", got)
	}
}

func TestLoadDotEnvMissingFileIsSilent(t *testing.T) {
	loadDotEnv(filepath.Join(t.TempDir(), "does-not-exist"))
}
