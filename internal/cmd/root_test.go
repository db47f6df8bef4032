package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	rootCmd := NewRootCmd()

	if rootCmd.Use != "lecture" {
		t.Errorf("expected Use to be 'lecture', got '%s'", rootCmd.Use)
	}

	subcommands := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		subcommands[cmd.Name()] = true
	}

	for _, name := range []string{"watch", "courses", "version"} {
		if !subcommands[name] {
			t.Errorf("expected subcommand '%s' to be registered", name)
		}
	}
}

func TestWatchCmd_Subcommands(t *testing.T) {
	watch := NewWatchCmd()

	subcommands := make(map[string]bool)
	for _, cmd := range watch.Commands() {
		subcommands[cmd.Name()] = true
	}
	for _, name := range []string{"start", "stop", "status", "deps"} {
		if !subcommands[name] {
			t.Errorf("expected watch subcommand '%s' to be registered", name)
		}
	}
}

func TestRootCmd_LoadsEnvFile(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "lecture.env")
	if err := os.WriteFile(envPath, []byte("LECTURE_CMD_TEST_VALUE=from-file\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("LECTURE_CMD_TEST_VALUE", "")
	os.Unsetenv("LECTURE_CMD_TEST_VALUE")

	rootCmd := NewRootCmd()
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--env-file", envPath, "version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if got := os.Getenv("LECTURE_CMD_TEST_VALUE"); got != "from-file" {
		t.Errorf("LECTURE_CMD_TEST_VALUE = %q, want %q", got, "from-file")
	}
}

func TestRootCmd_MissingEnvFileIsIgnored(t *testing.T) {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env"), "version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("expected missing env file to be skipped, got: %v", err)
	}
}
