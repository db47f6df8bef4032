package cmd

import (
	"bytes"
	"testing"
)

func TestVersion_Output(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() {
		Version, Commit = origVersion, origCommit
	}()

	tests := []struct {
		version, commit string
		want            string
	}{
		{"1.2.3", "abc123", "lecture version 1.2.3 (commit: abc123)\n"},
		{"dev", "unknown", "lecture version dev (commit: unknown)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			Version, Commit = tt.version, tt.commit

			var buf bytes.Buffer
			cmd := NewVersionCmd()
			cmd.SetOut(&buf)
			if err := cmd.Execute(); err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("output = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
