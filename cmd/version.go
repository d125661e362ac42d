package cmd

import (
	"fmt"
	"strconv"
)

// set with -ldflags "-X github.com/fzft/go-fdwatch/cmd.gitSHA1=..."
var (
	version   = "0.1.0"
	gitSHA1   = "unknown"
	gitDirty  = "unknown"
	buildDate = "unknown"
)

func Version() string {
	v := version
	// Add git commit and working tree status when available
	if gitSHA1 != "" && gitSHA1 != "unknown" {
		v = fmt.Sprintf("%s (git:%s", v, gitSHA1)
		if dirtyInt, err := strconv.Atoi(gitDirty); err == nil && dirtyInt != 0 {
			v += "-dirty"
		}
		v += ")"
	}
	if buildDate != "unknown" {
		v = fmt.Sprintf("%s built %s", v, buildDate)
	}
	return v
}
