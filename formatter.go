package invoiceflow

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Formatter receives step lifecycle notifications for pretty output. The
// engine calls it synchronously from the step loop; implementations should
// be fast and must not panic.
type Formatter interface {
	PrintStepStart(threadID, stepName string)
	PrintStepOutput(threadID, stepName string, fields map[string]any)
	PrintStepError(threadID, stepName string, err error)
}

type nullFormatter struct{}

// NewNullFormatter returns a Formatter that discards all output.
func NewNullFormatter() Formatter {
	return &nullFormatter{}
}

func (f *nullFormatter) PrintStepStart(threadID, stepName string) {}

func (f *nullFormatter) PrintStepOutput(threadID, stepName string, fields map[string]any) {}

func (f *nullFormatter) PrintStepError(threadID, stepName string, err error) {}

// ConsoleFormatter prints step progress to stdout with color when attached
// to a terminal.
type ConsoleFormatter struct {
	step   *color.Color
	detail *color.Color
	fail   *color.Color
}

// NewConsoleFormatter creates a console formatter.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{
		step:   color.New(color.FgCyan, color.Bold),
		detail: color.New(color.FgWhite),
		fail:   color.New(color.FgRed, color.Bold),
	}
}

func (f *ConsoleFormatter) PrintStepStart(threadID, stepName string) {
	f.step.Printf("▶ %s\n", stepName)
}

func (f *ConsoleFormatter) PrintStepOutput(threadID, stepName string, fields map[string]any) {
	for key, value := range fields {
		f.detail.Printf("  %s = %s\n", key, truncate(fmt.Sprintf("%v", value), 80))
	}
}

func (f *ConsoleFormatter) PrintStepError(threadID, stepName string, err error) {
	f.fail.Fprintf(os.Stderr, "✗ %s: %v\n", stepName, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
