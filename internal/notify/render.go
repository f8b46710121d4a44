package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/hookline/hookline/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// renderPayload is the data passed to message templates. Events always
// holds at least one event; Count mirrors len(Events) for convenience.
type renderPayload struct {
	Events []domain.Event
	Count  int
}

// Renderer renders delivery messages from templates, one template set per
// destination type.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a new renderer and loads all templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":          titleCase,
		"upper":          strings.ToUpper,
		"lower":          strings.ToLower,
		"formatTime":     formatTime,
		"formatDuration": formatDuration,
		"truncate":       truncate,
		"statusEmoji":    statusEmoji,
		"escapeHTML":     html.EscapeString,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
	}

	destinationTypes := []string{"webhook", "discord", "telegram"}
	messageKinds := []string{"event", "batch"}

	for _, dest := range destinationTypes {
		for _, kind := range messageKinds {
			name := fmt.Sprintf("%s_%s", dest, kind)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

// Render renders one or more events into a message for the given
// destination type. Returns subject and body.
func (r *Renderer) Render(destType domain.DestinationType, events []domain.Event) (subject, body string, err error) {
	if len(events) == 0 {
		return "", "", fmt.Errorf("render: no events")
	}

	subject = renderSubject(events)

	kind := "event"
	if len(events) > 1 {
		kind = "batch"
	}

	templateName := fmt.Sprintf("%s_%s", destType, kind)
	tmpl, ok := r.templates[templateName]
	if !ok {
		return "", "", fmt.Errorf("template not found: %s", templateName)
	}

	payload := renderPayload{Events: events, Count: len(events)}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return "", "", fmt.Errorf("execute template %s: %w", templateName, err)
	}

	body = strings.TrimSpace(buf.String())
	return subject, body, nil
}

// renderSubject generates the message subject line.
func renderSubject(events []domain.Event) string {
	if len(events) > 1 {
		return fmt.Sprintf("[Traffic Alert] %d matched exchanges", len(events))
	}

	e := events[0]
	if e.Error != "" {
		return fmt.Sprintf("[Traffic Alert] %s %s failed", e.Method, e.TargetURI)
	}
	return fmt.Sprintf("[Traffic Alert] %s %s → %d", e.Method, e.TargetURI, e.StatusCode)
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04:05 UTC")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func truncate(limit int, s string) string {
	if len(s) <= limit {
		return s
	}
	// Back up to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func statusEmoji(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "✅"
	case statusCode >= 300 && statusCode < 400:
		return "↪️"
	case statusCode >= 400 && statusCode < 500:
		return "⚠️"
	case statusCode >= 500:
		return "🔴"
	default:
		return "📋"
	}
}
