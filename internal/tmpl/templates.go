package tmpl

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Templates is a loaded subject and body pair
type Templates struct {
	Subject string
	Body    string

	// Markdown is set when the body is markdown rather than HTML
	Markdown bool
}

// Rendered is the output of rendering a message for one contact
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Load reads the subject and body templates. Bodies with a .md or
// .markdown extension are rendered from markdown.
func Load(subjectPath, bodyPath string) (*Templates, error) {
	subject, err := readTemplate(subjectPath)
	if err != nil {
		return nil, err
	}
	body, err := readTemplate(bodyPath)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(bodyPath))
	return &Templates{
		Subject:  subject,
		Body:     body,
		Markdown: ext == ".md" || ext == ".markdown",
	}, nil
}

func readTemplate(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read template: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("template %s is empty", path)
	}
	return string(data), nil
}

// Render renders the subject, HTML body and plain text alternative
func (t *Templates) Render(c *Context) (*Rendered, error) {
	subject := c.Apply(t.Subject)
	subject = strings.Join(strings.Fields(subject), " ")

	var body string
	if t.Markdown {
		html, err := Markdown(c.ApplyHTML(t.Body))
		if err != nil {
			return nil, err
		}
		body = html
	} else {
		body = c.ApplyHTML(t.Body)
	}

	return &Rendered{
		Subject: subject,
		HTML:    body,
		Text:    PlainText(body),
	}, nil
}

// Unresolved lists the placeholders of both templates that c has no value for
func (t *Templates) Unresolved(c *Context) []string {
	var missing []string
	for _, name := range Placeholders(t.Subject + "\n" + t.Body) {
		if c.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}
