package backend

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"codesandbox/internal/sandbox/profile"
	appErr "codesandbox/pkg/errors"
)

func TestBuildCommand(t *testing.T) {
	cases := []struct {
		name string
		tpl  string
		vars CommandVars
		want []string
	}{
		{
			name: "compile",
			tpl:  "g++ -O2 -o {bin} {src}",
			vars: CommandVars{Src: "main.cpp", Bin: "main"},
			want: []string{"g++", "-O2", "-o", "main", "main.cpp"},
		},
		{
			name: "quoted argument",
			tpl:  `sh -c "cat {src} | wc -l"`,
			vars: CommandVars{Src: "in.txt"},
			want: []string{"sh", "-c", "cat in.txt | wc -l"},
		},
		{
			name: "dir placeholder",
			tpl:  "java -cp {dir} Main",
			vars: CommandVars{Dir: "/sandbox"},
			want: []string{"java", "-cp", "/sandbox", "Main"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BuildCommand(tc.tpl, tc.vars)
			if err != nil {
				t.Fatalf("build command failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}

	if _, err := BuildCommand("   ", CommandVars{}); !appErr.Is(err, appErr.InvalidParams) {
		t.Fatalf("expected invalid params for empty template, got %v", err)
	}
}

func TestStageAndRemove(t *testing.T) {
	root := t.TempDir()
	lang := profile.LanguageSpec{ID: "python", SourceFile: "main.py"}

	prog, err := Stage(root, "sub/../1", lang, "print(1)")
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if filepath.Dir(prog.Dir) != root {
		t.Fatalf("scratch dir escaped root: %s", prog.Dir)
	}
	if !strings.HasPrefix(filepath.Base(prog.Dir), "sub-sub_.._1-") {
		t.Fatalf("unexpected scratch dir name: %s", prog.Dir)
	}
	data, err := os.ReadFile(filepath.Join(prog.Dir, "main.py"))
	if err != nil || string(data) != "print(1)" {
		t.Fatalf("source not staged: %q %v", data, err)
	}

	if err := prog.Remove(); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := prog.Remove(); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	if _, err := os.Stat(prog.Dir); !os.IsNotExist(err) {
		t.Fatalf("scratch dir still exists: %v", err)
	}
}

func TestStageRejectsPathInSourceFile(t *testing.T) {
	root := t.TempDir()
	_, err := Stage(root, "1", profile.LanguageSpec{SourceFile: "../evil.py"}, "")
	if !appErr.Is(err, appErr.StagingFailed) {
		t.Fatalf("expected staging failure, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Fatalf("nothing should be left in root, got %d entries", len(entries))
	}
}

func TestCompileDiagnostic(t *testing.T) {
	if got := CompileDiagnostic("out", " err \n", false); got != "err" {
		t.Fatalf("expected stderr, got %q", got)
	}
	if got := CompileDiagnostic("out", "", false); got != "out" {
		t.Fatalf("expected stdout fallback, got %q", got)
	}
	if got := CompileDiagnostic("", "", true); got != "compilation timed out" {
		t.Fatalf("unexpected timeout diagnostic %q", got)
	}
}
