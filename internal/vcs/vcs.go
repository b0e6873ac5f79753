// Package vcs abstracts the working copy the deployment engine mutates.
// The production implementation shells out to git; tests substitute an
// in-memory store.
package vcs

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Store is the surface the deployment engine needs: read an artifact,
// overwrite it, and publish the result.
type Store interface {
	Read(path string) (string, error)
	Write(path, content string) error
	CommitPush(message string) error
}

// Git operates on a checked-out repository via the git CLI.
type Git struct {
	RepoDir string
	Remote  string
	Branch  string
}

func NewGit(repoDir, remote string) *Git {
	if remote == "" {
		remote = "origin"
	}
	return &Git{RepoDir: repoDir, Remote: remote, Branch: "main"}
}

func (g *Git) Read(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(g.RepoDir, path))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (g *Git) Write(path, content string) error {
	full := filepath.Join(g.RepoDir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (g *Git) CommitPush(message string) error {
	steps := [][]string{
		{"add", "-A"},
		{"commit", "-m", message},
		{"push", g.Remote, g.Branch},
	}
	for _, args := range steps {
		if err := g.run(args...); err != nil {
			return err
		}
	}
	return nil
}

func (g *Git) run(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.RepoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
