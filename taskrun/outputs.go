package taskrun

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ruleWidth is the width of the horizontal rules framing the captured log
// lines in an always-capture-log file.
const ruleWidth = 80

// OutputPolicy writes the capture files after a run and decides which
// output mappings are worth pushing to storage.
type OutputPolicy struct {
	fs     FileSystem
	logger *zap.Logger
}

func NewOutputPolicy(fs FileSystem, logger *zap.Logger) *OutputPolicy {
	return &OutputPolicy{fs: fs, logger: logger}
}

// Select writes each capture mapping's local file, then returns the
// mappings to push: all of them when the run succeeded, only the
// always-capture logs when it failed, since ordinary outputs may be partial
// or invalid then. A capture write failure is logged, not escalated; it must
// not mask the run's real outcome.
func (p *OutputPolicy) Select(lines []string, success bool, outputs []PathMapping, prologue, epilogue string) []PathMapping {
	var toPush []PathMapping

	for _, out := range outputs {
		if out.Kind != CaptureNone {
			content := renderCapture(out.Kind, lines, prologue, epilogue)
			if err := p.fs.WriteFile(out.Local, content, FilePermission); err != nil {
				p.logger.Error("error capturing output",
					zap.String("path", out.Local), zap.Error(err))
			}
		}

		if success || out.Kind == CaptureLog {
			toPush = append(toPush, out)
		}
	}
	return toPush
}

// renderCapture builds a capture file: the bare log lines for a stdout
// capture; a prologue header, a rule, the lines, a rule, and an epilogue
// footer for an always-capture log.
func renderCapture(kind CaptureKind, lines []string, prologue, epilogue string) []byte {
	var b strings.Builder
	rule := strings.Repeat("-", ruleWidth)

	if kind == CaptureLog {
		fmt.Fprintf(&b, "%s\n\n%s\n", prologue, rule)
	}
	for _, line := range lines {
		b.WriteString(line)
	}
	if kind == CaptureLog {
		fmt.Fprintf(&b, "%s\n\n%s\n", rule, epilogue)
	}
	return []byte(b.String())
}
