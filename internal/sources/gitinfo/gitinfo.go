// Package gitinfo is the tier-2 source querying the working tree of the
// host cwd via `git status --porcelain=v2 --branch`.
package gitinfo

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/wilbur182/pulse/internal/source"
)

// Descriptor returns the git working-tree data source.
func Descriptor(timeout time.Duration) source.Descriptor {
	return source.New("git", source.TierSession, source.Options{Timeout: timeout}, fetch, merge)
}

func fetch(ctx context.Context, inv *source.Invocation) (source.GitInfo, error) {
	dir := inv.Input.CWD
	if dir == "" {
		return source.GitInfo{}, fmt.Errorf("gitinfo: no cwd supplied by host")
	}

	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain=v2", "--branch")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return source.GitInfo{}, fmt.Errorf("gitinfo: git status: %w", err)
	}
	return parseStatus(string(out)), nil
}

// parseStatus reads porcelain v2 output: branch headers carry the name
// and ahead/behind counts, every non-header line is a changed path.
func parseStatus(out string) source.GitInfo {
	var info source.GitInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			fields := strings.Fields(line)
			if len(fields) < 3 {
				continue
			}
			switch fields[1] {
			case "branch.head":
				info.Branch = fields[2]
			case "branch.ab":
				if len(fields) >= 4 {
					info.Ahead, _ = strconv.Atoi(strings.TrimPrefix(fields[2], "+"))
					behind, _ := strconv.Atoi(strings.TrimPrefix(fields[3], "-"))
					info.Behind = behind
				}
			}
			continue
		}
		info.DirtyFiles++
	}
	return info
}

func merge(info source.GitInfo, h *source.Health) {
	h.Git = &info
}
