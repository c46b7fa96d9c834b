package agenttrace

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/lipgloss"
)

const (
	consoleRuleWidth     = 60
	consolePreviewLimit  = 100
	consoleSlowThreshold = 1000.0 // ms
)

// ConsoleExporter writes spans to a writer for local debugging, either as a
// readable block per span or as indented JSON records.
type ConsoleExporter struct {
	out    io.Writer
	styles consoleStyles
	pretty bool
	mu     sync.Mutex
}

// ConsoleOption configures a ConsoleExporter.
type ConsoleOption func(*consoleConfig)

type consoleConfig struct {
	out    io.Writer
	pretty bool
	color  bool
}

// WithConsoleOutput sets the destination. The default is stdout.
func WithConsoleOutput(w io.Writer) ConsoleOption {
	return func(c *consoleConfig) { c.out = w }
}

// WithPretty selects the readable block format (default) or JSON.
func WithPretty(pretty bool) ConsoleOption {
	return func(c *consoleConfig) { c.pretty = pretty }
}

// WithColor turns terminal styling on or off. Styling also depends on the
// colour support detected for the output.
func WithColor(color bool) ConsoleOption {
	return func(c *consoleConfig) { c.color = color }
}

// NewConsoleExporter creates a console exporter.
func NewConsoleExporter(opts ...ConsoleOption) *ConsoleExporter {
	cfg := consoleConfig{out: os.Stdout, pretty: true, color: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &ConsoleExporter{
		out:    cfg.out,
		pretty: cfg.pretty,
		styles: newConsoleStyles(cfg.out, cfg.color),
	}
}

// Export writes one span.
func (e *ConsoleExporter) Export(_ context.Context, span *Span) bool {
	if span == nil {
		return false
	}
	text, err := e.format(span.ToRecord())
	if err != nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = fmt.Fprintln(e.out, text)
	return err == nil
}

// ExportBatch writes each span and counts the successful writes.
func (e *ConsoleExporter) ExportBatch(ctx context.Context, spans []*Span) int {
	n := 0
	for _, span := range spans {
		if e.Export(ctx, span) {
			n++
		}
	}
	return n
}

// Shutdown implements Exporter.
func (*ConsoleExporter) Shutdown(context.Context) error { return nil }

func (e *ConsoleExporter) format(r Record) (string, error) {
	if !e.pretty {
		b, err := sonic.ConfigStd.MarshalIndent(r, "", "  ")
		return string(b), err
	}
	return e.formatPretty(r), nil
}

func (e *ConsoleExporter) formatPretty(r Record) string {
	st := e.styles
	var b strings.Builder
	line := func(label, value string) {
		fmt.Fprintf(&b, "  %s %s\n", st.label.Render(label+":"), value)
	}

	b.WriteString(st.rule.Render(strings.Repeat("─", consoleRuleWidth)) + "\n")
	fmt.Fprintf(&b, "%s %s\n", st.label.Render("SPAN"), st.dim.Render("["+r.SpanID+"]"))
	line("operation", r.OperationName)
	line("trace_id", st.dim.Render(r.TraceID))
	if r.ParentSpanID != "" {
		line("parent", st.dim.Render(r.ParentSpanID))
	}
	line("service", r.ServiceName)
	line("status", st.status(r.Status).Render(string(r.Status)))

	if r.DurationMS != nil {
		style := st.fast
		if *r.DurationMS > consoleSlowThreshold {
			style = st.slow
		}
		line("duration", style.Render(fmt.Sprintf("%.2fms", *r.DurationMS)))
	}

	if r.ModelName != "" {
		line("model", st.model.Render(r.ModelName))
		if r.ModelProvider != "" {
			line("provider", r.ModelProvider)
		}
	}

	var tokens []string
	if r.TokensIn != nil && *r.TokensIn > 0 {
		tokens = append(tokens, fmt.Sprintf("in=%d", *r.TokensIn))
	}
	if r.TokensOut != nil && *r.TokensOut > 0 {
		tokens = append(tokens, fmt.Sprintf("out=%d", *r.TokensOut))
	}
	if r.TokensReasoning != nil && *r.TokensReasoning > 0 {
		tokens = append(tokens, fmt.Sprintf("reasoning=%d", *r.TokensReasoning))
	}
	if len(tokens) > 0 {
		line("tokens", st.slow.Render(strings.Join(tokens, ", ")))
	}

	if r.ToolName != "" {
		line("tool", st.tool.Render(r.ToolName))
	}
	if r.PromptPreview != "" {
		line("prompt", st.dim.Render(shortPreview(r.PromptPreview)))
	}
	if r.CompletionPreview != "" {
		line("completion", st.dim.Render(shortPreview(r.CompletionPreview)))
	}
	if r.StatusMessage != "" {
		line("message", st.errorText.Render(r.StatusMessage))
	}

	if len(r.Attributes) > 0 {
		fmt.Fprintf(&b, "  %s\n", st.label.Render("attributes:"))
		for _, k := range slices.Sorted(maps.Keys(r.Attributes)) {
			fmt.Fprintf(&b, "    %s %v\n", st.dim.Render(k+":"), r.Attributes[k])
		}
	}
	for _, ev := range r.Events {
		fmt.Fprintf(&b, "  %s %s %s\n", st.label.Render("event:"), ev.Name, st.dim.Render(ev.Timestamp.Format("15:04:05.000")))
	}

	b.WriteString(st.rule.Render(strings.Repeat("─", consoleRuleWidth)))
	return b.String()
}

func shortPreview(s string) string {
	if short := Truncate(s, consolePreviewLimit); short != s {
		return short + "..."
	}
	return s
}

type consoleStyles struct {
	label     lipgloss.Style
	dim       lipgloss.Style
	rule      lipgloss.Style
	ok        lipgloss.Style
	errorText lipgloss.Style
	fast      lipgloss.Style
	slow      lipgloss.Style
	model     lipgloss.Style
	tool      lipgloss.Style
}

func newConsoleStyles(out io.Writer, color bool) consoleStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return consoleStyles{
			label: plain, dim: plain, rule: plain, ok: plain, errorText: plain,
			fast: plain, slow: plain, model: plain, tool: plain,
		}
	}

	r := lipgloss.NewRenderer(out)
	return consoleStyles{
		label:     r.NewStyle().Bold(true),
		dim:       r.NewStyle().Faint(true),
		rule:      r.NewStyle().Foreground(lipgloss.Color("6")),
		ok:        r.NewStyle().Foreground(lipgloss.Color("2")),
		errorText: r.NewStyle().Foreground(lipgloss.Color("1")),
		fast:      r.NewStyle().Foreground(lipgloss.Color("2")),
		slow:      r.NewStyle().Foreground(lipgloss.Color("3")),
		model:     r.NewStyle().Foreground(lipgloss.Color("5")),
		tool:      r.NewStyle().Foreground(lipgloss.Color("6")),
	}
}

func (s consoleStyles) status(status Status) lipgloss.Style {
	switch status {
	case StatusOK:
		return s.ok
	case StatusError:
		return s.errorText
	default:
		return s.dim
	}
}
