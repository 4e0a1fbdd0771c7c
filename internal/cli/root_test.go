package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/sprite-ai/repolens/internal/local"
	"github.com/sprite-ai/repolens/internal/model"
)

func TestRootCommandHasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "repos", "tree", "review", "last", "local", "version"} {
		if !names[want] {
			t.Errorf("root command missing subcommand %q", want)
		}
	}
}

func TestVersionOutput(t *testing.T) {
	// version vars are set via ldflags; in tests they have their defaults
	if version != "dev" {
		t.Errorf("expected default version %q, got %q", "dev", version)
	}

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "repolens dev") {
		t.Errorf("unexpected version output %q", buf.String())
	}
}

func TestParseRepo(t *testing.T) {
	tests := []struct {
		arg   string
		owner string
		repo  string
		ok    bool
	}{
		{"octo/hello", "octo", "hello", true},
		{"/octo/hello/", "octo", "hello", true},
		{"octo", "", "", false},
		{"octo/", "", "", false},
		{"octo/hello/extra", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, err := parseRepo(tt.arg)
		if (err == nil) != tt.ok {
			t.Errorf("parseRepo(%q) error = %v, want ok %v", tt.arg, err, tt.ok)
			continue
		}
		if owner != tt.owner || repo != tt.repo {
			t.Errorf("parseRepo(%q) = %q, %q", tt.arg, owner, repo)
		}
	}
}

func sessionCmd(provider, token string) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("provider", provider, "")
	cmd.Flags().String("token", token, "")
	return cmd
}

func TestHostSession(t *testing.T) {
	t.Setenv("REPOLENS_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("BITBUCKET_TOKEN", "bb-env")

	sess, err := hostSession(sessionCmd("github", "flag-token"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Provider != model.ProviderGitHub || sess.AccessToken != "flag-token" {
		t.Errorf("unexpected session %+v", sess)
	}

	sess, err = hostSession(sessionCmd("Bitbucket", ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.Provider != model.ProviderBitbucket || sess.AccessToken != "bb-env" {
		t.Errorf("unexpected session %+v", sess)
	}

	if _, err := hostSession(sessionCmd("github", "")); err == nil {
		t.Error("expected error without a token")
	}
	if _, err := hostSession(sessionCmd("gitlab", "tok")); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReadUploads(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.go", "package a\n")
	b := writeFile(t, dir, "b.py", "print(1)\n")

	uploads, err := readUploads([]string{a, b}, local.DefaultLimits())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploads) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(uploads))
	}
	if uploads[0].Filename != "a.go" || uploads[0].Content != "package a\n" || uploads[0].Size != 10 {
		t.Errorf("unexpected upload %+v", uploads[0])
	}
	if uploads[1].Path != filepath.ToSlash(b) {
		t.Errorf("unexpected path %q", uploads[1].Path)
	}
}

func TestReadUploadsLimits(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.go", "package a\n")
	b := writeFile(t, dir, "b.go", "package b\n")
	bin := writeFile(t, dir, "tool.exe", "MZ")

	if _, err := readUploads([]string{a, bin}, local.DefaultLimits()); !errors.Is(err, local.ErrUnsupportedType) {
		t.Errorf("expected unsupported type, got %v", err)
	}

	limits := local.DefaultLimits()
	limits.MaxFiles = 1
	if _, err := readUploads([]string{a, b}, limits); !errors.Is(err, local.ErrTooMany) {
		t.Errorf("expected too many files, got %v", err)
	}

	limits = local.DefaultLimits()
	limits.MaxFileSize = 4
	if _, err := readUploads([]string{a}, limits); !errors.Is(err, local.ErrTooLarge) {
		t.Errorf("expected too large, got %v", err)
	}

	if _, err := readUploads([]string{dir}, local.DefaultLimits()); err == nil {
		t.Error("expected error for a directory")
	}
}
