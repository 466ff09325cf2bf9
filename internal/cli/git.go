// ABOUTME: Reads the working tree's branch and short status for checkpoint capture
// ABOUTME: Shells out to git; a directory outside a repository yields an error

package cli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// gitSnapshot returns `git status --porcelain` and the current branch for dir.
func gitSnapshot(ctx context.Context, dir string) (status, branch string, err error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return "", "", fmt.Errorf("reading git branch in %s: %w", dir, err)
	}
	branch = strings.TrimSpace(string(out))

	out, err = exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain").Output()
	if err != nil {
		return "", "", fmt.Errorf("reading git status in %s: %w", dir, err)
	}
	return strings.TrimRight(string(out), "\n"), branch, nil
}
