package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"strings"
	"text/template"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

const embedColor = 0x2ECC71

// Renderer turns a Report into per-channel messages.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer creates a renderer and parses all channel templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"escapeMarkdown": EscapeMarkdown,
		"escapeHTML":     html.EscapeString,
		"score":          FormatScore,
	}

	r := &Renderer{templates: make(map[string]*template.Template)}

	for _, name := range []string{"telegram", "email"} {
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
	return r, nil
}

// Render produces the message for one channel kind.
func (r *Renderer) Render(kind domain.ChannelKind, report Report) (Message, error) {
	switch kind {
	case domain.ChannelKindTelegram:
		body, err := r.execute("telegram", report)
		if err != nil {
			return Message{}, err
		}
		return Message{Body: body}, nil
	case domain.ChannelKindEmail:
		body, err := r.execute("email", report)
		if err != nil {
			return Message{}, err
		}
		return Message{Subject: subject(report), Body: body}, nil
	case domain.ChannelKindWebhook:
		return Message{Embeds: embeds(report)}, nil
	default:
		return Message{}, fmt.Errorf("unknown channel kind %q", kind)
	}
}

func (r *Renderer) execute(name string, report Report) (string, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return "", fmt.Errorf("template not found: %s", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, report); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func subject(report Report) string {
	if len(report.Courses) == 1 {
		return fmt.Sprintf("Grade update: %s", report.Courses[0].Name)
	}
	return fmt.Sprintf("Grade updates in %d courses", len(report.Courses))
}

// embeds builds one webhook embed per changed course.
func embeds(report Report) []Embed {
	out := make([]Embed, 0, len(report.Courses))
	for _, course := range report.Courses {
		embed := Embed{
			Title: fmt.Sprintf("%s (%s)", course.Name, course.Code),
			Color: embedColor,
		}
		for _, field := range course.Fields {
			embed.Fields = append(embed.Fields, EmbedField{
				Name:   field.Label,
				Value:  FormatScore(field.Value),
				Inline: true,
			})
		}
		out = append(out, embed)
	}
	return out
}
