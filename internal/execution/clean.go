package execution

import (
	"regexp"
	"strings"
)

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
	loggingPattern = regexp.MustCompile(`(?m)^[ \t]*logging to .*\.jsonl[ \t]*\r?(\n|$)`)
)

// cleanOutput strips terminal colour codes and the agent's session log
// banner. It returns "" when nothing readable is left.
func cleanOutput(chunk string) string {
	s := ansiPattern.ReplaceAllString(chunk, "")
	s = loggingPattern.ReplaceAllString(s, "")
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
