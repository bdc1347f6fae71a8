package script

import (
	"regexp"
	"strings"
)

var (
	routineDef = regexp.MustCompile(`(?m)^[ \t]*(?:async[ \t]+)?def[ \t]+\w+[ \t]*\(`)

	// Matches a top-level entry-point guard in either operand order and
	// captures whatever follows the colon.
	mainGuard = regexp.MustCompile(`^if\s+(?:__name__\s*==\s*['"]__main__['"]|['"]__main__['"]\s*==\s*__name__)\s*:(.*)$`)
)

// DefinesRoutine reports whether code defines at least one function.
func DefinesRoutine(code string) bool {
	return routineDef.MatchString(code)
}

// HasMainGuard reports whether code contains a top-level entry-point guard.
func HasMainGuard(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		if mainGuard.MatchString(strings.TrimRight(line, " \t\r")) {
			return true
		}
	}
	return false
}

// UnwrapMainGuard replaces each top-level `if __name__ == "__main__":` with
// its body, dedented to module level, so the body runs when the engine
// executes the file as a non-main module. Code without a function
// definition is returned unchanged.
func UnwrapMainGuard(code string) string {
	if !DefinesRoutine(code) || !HasMainGuard(code) {
		return code
	}

	lines := strings.Split(code, "\n")
	out := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		m := mainGuard.FindStringSubmatch(strings.TrimRight(lines[i], " \t\r"))
		if m == nil {
			out = append(out, lines[i])
			continue
		}

		if inline := strings.TrimSpace(m[1]); inline != "" && !strings.HasPrefix(inline, "#") {
			out = append(out, inline)
			continue
		}

		end := blockEnd(lines, i+1)
		out = append(out, dedent(lines[i+1:end])...)
		i = end - 1
	}

	return strings.Join(out, "\n")
}

// blockEnd returns the index one past the last indented line of the block
// starting at start. Blank lines and column-zero comments inside the block
// belong to it; trailing ones do not.
func blockEnd(lines []string, start int) int {
	end := start
	for j := start; j < len(lines); j++ {
		line := strings.TrimRight(lines[j], "\r")
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "" || (strings.HasPrefix(trimmed, "#") && !isIndented(line)):
			continue
		case isIndented(line):
			end = j + 1
		default:
			return end
		}
	}
	return end
}

func isIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// dedent strips the indentation of the first non-blank line from every line.
func dedent(block []string) []string {
	indent := ""
	for _, line := range block {
		if strings.TrimSpace(line) != "" && isIndented(line) {
			indent = line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			break
		}
	}

	out := make([]string, len(block))
	for i, line := range block {
		switch {
		case strings.HasPrefix(line, indent):
			out[i] = line[len(indent):]
		case strings.TrimSpace(line) == "":
			out[i] = ""
		default:
			out[i] = strings.TrimLeft(line, " \t")
		}
	}
	return out
}
