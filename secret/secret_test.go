package secret

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("QC_PRESENT", "ok")
	tests := []struct {
		in      string
		want    string
		wantErr string
	}{
		{"dir=${QC_PRESENT}", "dir=ok", ""},
		{"$$${QC_PRESENT}", "$ok", ""},
		{"bare $QC_UNSET_BARE stays lenient", "bare  stays lenient", ""},
		{"a=${QC_MISSING_B} b=${QC_MISSING_A} c=${QC_MISSING_B}", "", "QC_MISSING_A, QC_MISSING_B"},
	}
	for _, tt := range tests {
		got, err := ExpandEnvStrict(tt.in)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ExpandEnvStrict(%q) err = %v, want %q", tt.in, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ExpandEnvStrict(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestParseRef(t *testing.T) {
	p, ref, ok := ParseRef("secretref:file:/run/secrets/key")
	if !ok || p != "file" || ref != "/run/secrets/key" {
		t.Errorf("ParseRef = %q, %q, %v", p, ref, ok)
	}
	for _, bad := range []string{"plain", "secretref:", "secretref:env", "secretref::X"} {
		if _, _, ok := ParseRef(bad); ok {
			t.Errorf("ParseRef(%q) should fail", bad)
		}
	}
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jwt"), []byte("file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QC_API_KEY", "sk-test")
	r := NewResolver()
	ctx := context.Background()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{"secretref:env:QC_API_KEY", "sk-test", false},
		{"secretref:file:" + filepath.Join(dir, "jwt"), "file-secret", false},
		{"${QC_API_KEY}", "${QC_API_KEY}", false},
		{"Bearer secretref:env:QC_API_KEY", "Bearer sk-test", false},
		{"secretref:env:QC_NOT_SET", "", true},
		{"secretref:vault:x", "", true},
	}
	for _, tt := range tests {
		got, err := r.Resolve(ctx, tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Resolve(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestResolver_EmptyIsError(t *testing.T) {
	t.Setenv("QC_EMPTY", "")
	if _, err := NewResolver().Resolve(context.Background(), "secretref:env:QC_EMPTY"); err == nil {
		t.Error("empty secret should be an error")
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	t.Setenv("QC_A", "alpha")
	a, b, empty := "secretref:env:QC_A", "pre-secretref:env:QC_A", ""
	if err := NewResolver().ResolveAll(context.Background(), &a, &b, &empty, nil); err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if a != "alpha" || b != "pre-alpha" || empty != "" {
		t.Errorf("got %q %q %q", a, b, empty)
	}
}

func TestFileProvider_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "k"), []byte("v\r\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := FileProvider{Dir: dir}.Resolve(context.Background(), "k")
	if err != nil || v != "v" {
		t.Errorf("Resolve = %q, %v", v, err)
	}
}
