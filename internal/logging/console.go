package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ConsoleLogger prints human-readable progress lines prefixed with [HH:MM:SS].
// Colour is enabled only when writing to a terminal and NO_COLOR is unset.
type ConsoleLogger struct {
	writer      io.Writer
	level       string
	component   string
	fields      []Field
	colorOutput bool
	mu          *sync.Mutex
}

// NewConsoleLogger creates a ConsoleLogger writing to w. A nil writer discards
// output. Unknown levels default to "info".
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	if w == nil {
		w = io.Discard
	}
	return &ConsoleLogger{
		writer:      w,
		level:       normalizeLevel(level),
		colorOutput: isTerminal(w),
		mu:          &sync.Mutex{},
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (c *ConsoleLogger) paint(level, s string) string {
	if !c.colorOutput {
		return s
	}
	switch level {
	case "debug":
		return color.New(color.FgHiBlack).Sprint(s)
	case "warn":
		return color.New(color.FgYellow).Sprint(s)
	case "error":
		return color.New(color.FgRed, color.Bold).Sprint(s)
	default:
		return color.New(color.FgCyan).Sprint(s)
	}
}

func (c *ConsoleLogger) log(level, msg string, fields ...Field) {
	if levelValue(level) < levelValue(c.level) {
		return
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("15:04:05"))
	b.WriteString("] ")
	b.WriteString(c.paint(level, fmt.Sprintf("%-5s", strings.ToUpper(level))))
	b.WriteString(" ")
	if c.component != "" {
		b.WriteString(c.component)
		b.WriteString(": ")
	}
	b.WriteString(msg)

	all := append(append([]Field(nil), c.fields...), fields...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	for _, f := range all {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	b.WriteString("\n")

	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.writer, b.String())
}

func (c *ConsoleLogger) Debug(msg string, fields ...Field) { c.log("debug", msg, fields...) }
func (c *ConsoleLogger) Info(msg string, fields ...Field)  { c.log("info", msg, fields...) }
func (c *ConsoleLogger) Warn(msg string, fields ...Field)  { c.log("warn", msg, fields...) }
func (c *ConsoleLogger) Error(msg string, fields ...Field) { c.log("error", msg, fields...) }

// With returns a child sharing the writer and lock.
func (c *ConsoleLogger) With(fields ...Field) Logger {
	child := &ConsoleLogger{
		writer:      c.writer,
		level:       c.level,
		component:   c.component,
		fields:      append([]Field(nil), c.fields...),
		colorOutput: c.colorOutput,
		mu:          c.mu,
	}
	for _, f := range fields {
		if f.Key == "component" {
			if str, ok := f.Value.(string); ok {
				child.component = str
				continue
			}
		}
		child.fields = append(child.fields, f)
	}
	return child
}

// New picks a logger by format: "json" gives a StdoutLogger, anything else a
// ConsoleLogger.
func New(w io.Writer, format, level string) Logger {
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(w, "", level)
	}
	return NewConsoleLogger(w, level)
}
