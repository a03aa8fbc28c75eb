// Package output renders vibemqd's operator-facing command output in
// table, wide, JSON, or YAML form.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string, defaulting to FormatTable for
// anything unrecognized.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "wide":
		return FormatWide
	default:
		return FormatTable
	}
}

// Printer handles formatted output to a writer (stdout by default).
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a printer for the given format, writing to stdout.
func NewPrinter(format Format) *Printer {
	return &Printer{
		format:  format,
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// SetWriter redirects output, used by tests to capture rendered text.
func (p *Printer) SetWriter(w io.Writer) {
	p.writer = w
}

// Print outputs data in the configured format; table/wide formats without a
// dedicated Print* method fall back to JSON.
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(data)
	case FormatYAML:
		return p.printYAML(data)
	default:
		return p.printJSON(data)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (p *Printer) printYAML(data interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// Color codes.
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"
)

// Colorize wraps text in a color code unless NO_COLOR is set.
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// TableWriter creates a tabwriter for aligned column output.
func (p *Printer) TableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
}

// QueueRow represents one queue in a `queue list` table.
type QueueRow struct {
	Name             string `json:"name" yaml:"name"`
	Mode             string `json:"mode" yaml:"mode"`
	Length           int    `json:"length" yaml:"length"`
	MaxQueueSize     int    `json:"max_queue_size" yaml:"max_queue_size"`
	OverflowStrategy string `json:"overflow_strategy" yaml:"overflow_strategy"`
	DeadLetterLength int    `json:"dead_letter_length,omitempty" yaml:"dead_letter_length,omitempty"`
	Created          string `json:"created" yaml:"created"`
}

// PrintQueues prints a queue listing.
func (p *Printer) PrintQueues(rows []QueueRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No queues found")
		return nil
	}

	w := p.TableWriter()

	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "NAME\tMODE\tLENGTH\tMAX\tOVERFLOW\tDLQ\tCREATED"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "NAME\tMODE\tLENGTH\tCREATED"))
	}

	for _, row := range rows {
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
				p.Colorize(Cyan, row.Name),
				row.Mode,
				row.Length,
				row.MaxQueueSize,
				row.OverflowStrategy,
				row.DeadLetterLength,
				row.Created,
			)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				p.Colorize(Cyan, row.Name),
				row.Mode,
				row.Length,
				row.Created,
			)
		}
	}

	return w.Flush()
}

// QueueDetail represents the full detail view for `queue info`.
type QueueDetail struct {
	Name                  string `json:"name" yaml:"name"`
	Mode                  string `json:"mode" yaml:"mode"`
	MaxQueueSize          int    `json:"max_queue_size" yaml:"max_queue_size"`
	OverflowStrategy      string `json:"overflow_strategy" yaml:"overflow_strategy"`
	Length                int    `json:"length" yaml:"length"`
	EnableDeadLetterQueue bool   `json:"enable_dead_letter_queue" yaml:"enable_dead_letter_queue"`
	MaxRetryAttempts      int    `json:"max_retry_attempts" yaml:"max_retry_attempts"`
	DeadLetterLength      int    `json:"dead_letter_length" yaml:"dead_letter_length"`
	Created               string `json:"created" yaml:"created"`
}

// PrintQueueDetail prints a single queue's full detail view.
func (p *Printer) PrintQueueDetail(detail QueueDetail) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(detail)
	}

	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Queue:"), p.Colorize(Cyan, detail.Name))
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Mode:"), detail.Mode)
	fmt.Fprintf(p.writer, "  %s %d\n", p.Colorize(Gray, "Length:"), detail.Length)
	fmt.Fprintf(p.writer, "  %s %d\n", p.Colorize(Gray, "Max Size:"), detail.MaxQueueSize)
	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Overflow Strategy:"), detail.OverflowStrategy)
	fmt.Fprintf(p.writer, "  %s %d\n", p.Colorize(Gray, "Max Retry Attempts:"), detail.MaxRetryAttempts)

	if detail.EnableDeadLetterQueue {
		fmt.Fprintf(p.writer, "  %s %s (%d entries)\n", p.Colorize(Gray, "Dead Letter Queue:"), p.Colorize(Green, "enabled"), detail.DeadLetterLength)
	} else {
		fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Dead Letter Queue:"), "disabled")
	}

	fmt.Fprintf(p.writer, "  %s %s\n", p.Colorize(Gray, "Created:"), detail.Created)
	return nil
}

// DeadLetterRow represents one entry in a `dlq list` table.
type DeadLetterRow struct {
	ID        string `json:"id" yaml:"id"`
	MessageID string `json:"message_id" yaml:"message_id"`
	Queue     string `json:"queue" yaml:"queue"`
	Reason    string `json:"reason" yaml:"reason"`
	FailedAt  string `json:"failed_at" yaml:"failed_at"`
}

// PrintDeadLetters prints a dead-letter listing.
func (p *Printer) PrintDeadLetters(rows []DeadLetterRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No dead-lettered messages")
		return nil
	}

	w := p.TableWriter()
	fmt.Fprintln(w, p.Colorize(Bold, "ID\tMESSAGE\tQUEUE\tREASON\tFAILED AT"))
	for _, row := range rows {
		reasonColor := Yellow
		if row.Reason == "MaxRetriesExceeded" {
			reasonColor = Red
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			row.ID, row.MessageID, row.Queue, p.Colorize(reasonColor, row.Reason), row.FailedAt)
	}
	return w.Flush()
}

// Success prints a success message.
func (p *Printer) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Green, "✓ ")+msg)
}

// Error prints an error message.
func (p *Printer) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Red, "✗ ")+msg)
}

// Warning prints a warning message.
func (p *Printer) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Yellow, "⚠ ")+msg)
}

// Info prints an informational message.
func (p *Printer) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Blue, "ℹ ")+msg)
}
