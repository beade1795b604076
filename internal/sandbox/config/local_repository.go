package config

import (
	"context"
	"sort"
	"strings"

	"codesandbox/internal/sandbox/profile"
	appErr "codesandbox/pkg/errors"
)

// LocalRepository serves language specs from memory.
type LocalRepository struct {
	languages map[string]profile.LanguageSpec
}

// NewLocalRepository creates a repository from a config list.
// An empty list falls back to DefaultLanguages.
func NewLocalRepository(languages []profile.LanguageSpec) *LocalRepository {
	if len(languages) == 0 {
		languages = DefaultLanguages()
	}
	langMap := make(map[string]profile.LanguageSpec, len(languages))
	for _, lang := range languages {
		id := strings.ToLower(strings.TrimSpace(lang.ID))
		if id == "" || lang.SourceFile == "" || lang.RunCmdTpl == "" {
			continue
		}
		lang.ID = id
		langMap[id] = lang
	}
	return &LocalRepository{languages: langMap}
}

// GetLanguageSpec returns a language spec.
func (r *LocalRepository) GetLanguageSpec(ctx context.Context, id string) (profile.LanguageSpec, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return profile.LanguageSpec{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return profile.LanguageSpec{}, appErr.Newf(appErr.LanguageNotSupported, "language not supported: %s", id)
	}
	return lang, nil
}

// IDs lists the registered language ids in order.
func (r *LocalRepository) IDs() []string {
	ids := make([]string, 0, len(r.languages))
	for id := range r.languages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultLanguages is the built-in language table.
func DefaultLanguages() []profile.LanguageSpec {
	return []profile.LanguageSpec{
		{
			ID:         "python",
			Name:       "Python",
			Version:    "3.11",
			SourceFile: "main.py",
			RunCmdTpl:  "python3 -B {src}",
			Image:      "python:3.11-slim",
			Env:        []string{"PYTHONIOENCODING=utf-8"},
		},
		{
			ID:             "cpp",
			Name:           "C++",
			Version:        "17",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "g++ -O2 -std=c++17 -pipe -o {bin} {src}",
			RunCmdTpl:      "./{bin}",
			Image:          "gcc:13",
		},
		{
			ID:             "c",
			Name:           "C",
			Version:        "11",
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "gcc -O2 -std=c11 -pipe -o {bin} {src} -lm",
			RunCmdTpl:      "./{bin}",
			Image:          "gcc:13",
		},
		{
			ID:             "go",
			Name:           "Go",
			Version:        "1.22",
			SourceFile:     "main.go",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmdTpl:  "go build -o {bin} {src}",
			RunCmdTpl:      "./{bin}",
			Image:          "golang:1.22",
			Env:            []string{"GOCACHE=/tmp/gocache", "GOPATH=/tmp/gopath", "CGO_ENABLED=0"},
			TimeMultiplier: 1,

			UnboundedAddressSpace: true,
		},
		{
			ID:               "java",
			Name:             "Java",
			Version:          "17",
			SourceFile:       "Main.java",
			BinaryFile:       "Main.class",
			CompileEnabled:   true,
			CompileCmdTpl:    "javac -encoding UTF-8 {src}",
			RunCmdTpl:        "java -Xss64m -cp {dir} Main",
			Image:            "eclipse-temurin:17",
			TimeMultiplier:   2,
			MemoryMultiplier: 2,

			UnboundedAddressSpace: true,
		},
		{
			ID:               "javascript",
			Name:             "JavaScript",
			Version:          "20",
			SourceFile:       "main.js",
			RunCmdTpl:        "node {src}",
			Image:            "node:20-slim",
			TimeMultiplier:   1.5,
			MemoryMultiplier: 1.5,

			UnboundedAddressSpace: true,
		},
	}
}
