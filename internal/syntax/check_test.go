package syntax

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStructuralScan(t *testing.T) {
	c := New("") // no shell: force the structural fallback

	tests := []struct {
		name   string
		script string
		wantOK bool
	}{
		{"balanced", "if ($x) { Get-Date }", true},
		{"nested", "foreach ($i in (1..10)) { Write-Output $i }", true},
		{"unclosed brace", "if ($x) { Get-Date", false},
		{"unmatched close", "Get-Date }", false},
		{"unterminated string", `Write-Output "hello`, false},
		{"brace in string ok", `Write-Output "{not a block"`, true},
		{"brace in comment ok", "# { nothing\nGet-Date", true},
		{"unclosed paren", "(1 + 2", false},
		{"unclosed bracket", "$a[0", false},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.CheckScript(context.Background(), tt.script)
			if err != nil {
				t.Fatalf("CheckScript: %v", err)
			}
			if res.OK != tt.wantOK {
				t.Errorf("ok = %v, want %v (issues: %+v)", res.OK, tt.wantOK, res.Issues)
			}
			if res.Parser != "structural" {
				t.Errorf("parser = %q, want structural", res.Parser)
			}
			if res.DurationMs < 1 {
				t.Errorf("durationMs = %d, want >= 1", res.DurationMs)
			}
			if res.OK && len(res.Issues) != 0 {
				t.Errorf("ok result carries issues: %+v", res.Issues)
			}
		})
	}
}

func TestIssueLineNumbers(t *testing.T) {
	c := New("")
	res, err := c.CheckScript(context.Background(), "Get-Date\nGet-Item\nif ($x) {")
	if err != nil {
		t.Fatalf("CheckScript: %v", err)
	}
	if res.OK {
		t.Fatal("expected an issue")
	}
	if res.Issues[0].Line != 3 {
		t.Errorf("issue line = %d, want 3", res.Issues[0].Line)
	}
}

func TestCheckFile(t *testing.T) {
	c := New("")
	path := filepath.Join(t.TempDir(), "script.ps1")
	if err := os.WriteFile(path, []byte("Get-Date"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := c.CheckFile(context.Background(), path)
	if err != nil {
		t.Fatalf("CheckFile: %v", err)
	}
	if !res.OK {
		t.Errorf("issues = %+v", res.Issues)
	}

	if _, err := c.CheckFile(context.Background(), filepath.Join(t.TempDir(), "missing.ps1")); err == nil {
		t.Error("missing file accepted")
	}
}
