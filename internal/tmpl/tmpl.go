/*
Package tmpl provides placeholder substitution for mailmerge templates.

Placeholders have the form {{name}}, where name is any column header,
spaces and accented letters included; whitespace around the name is
ignored. A name is looked up in the contact record, the computed fields
and the configured defaults, in that order of precedence for computed
fields and record values. Unknown names never fail: they render as their
default, or as an empty string.
*/
package tmpl

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Computed fields available to every template
const (
	FieldSenderName = "sender_name"
	FieldToday      = "today"
)

// DefaultDateFormat is the layout of {{today}} when none is configured
const DefaultDateFormat = "02/01/2006"

// Names may hold any character but braces, so CSV headers such as
// "First Name" or "città" can be referenced as they are.
var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

var (
	strictPolicy *bluemonday.Policy
	policyOnce   sync.Once
)

// Options configures a Context
type Options struct {
	// SenderName fills {{sender_name}}
	SenderName string

	// Now is the time used for {{today}}
	Now time.Time

	// DateFormat is the Go layout of {{today}}
	DateFormat string

	// Defaults are used for fields that are missing or blank
	Defaults map[string]string
}

// Context holds the values a template is rendered against
type Context struct {
	data     map[string]string
	defaults map[string]string
}

// New creates a rendering context for one record
func New(record map[string]string, opts Options) *Context {
	c := &Context{
		data:     make(map[string]string, len(record)+2),
		defaults: make(map[string]string, len(opts.Defaults)),
	}
	for k, v := range opts.Defaults {
		c.defaults[k] = v
	}
	for k, v := range record {
		c.data[k] = strings.TrimSpace(v)
	}

	layout := opts.DateFormat
	if layout == "" {
		layout = DefaultDateFormat
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	c.data[FieldSenderName] = opts.SenderName
	c.data[FieldToday] = now.Format(layout)

	return c
}

// Get returns the value a placeholder resolves to
func (c *Context) Get(key string) string {
	if v := c.data[key]; v != "" {
		return v
	}
	return c.defaults[key]
}

// Set sets a value in the context
func (c *Context) Set(key, value string) {
	c.data[key] = value
}

// Apply replaces every placeholder in tmpl
func (c *Context) Apply(tmpl string) string {
	return c.apply(tmpl, func(s string) string { return s })
}

// ApplyHTML replaces every placeholder in tmpl with a markup-free,
// HTML-escaped value
func (c *Context) ApplyHTML(tmpl string) string {
	policyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return c.apply(tmpl, func(s string) string {
		// StrictPolicy escapes what it keeps; unescape first so entities
		// already present in the value are not escaped twice
		return strictPolicy.Sanitize(html.UnescapeString(s))
	})
}

func (c *Context) apply(tmpl string, escape func(string) string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := strings.TrimSpace(placeholderRe.FindStringSubmatch(m)[1])
		return escape(c.Get(key))
	})
}

// Data returns a copy of the resolved values, defaults included
func (c *Context) Data() map[string]string {
	result := make(map[string]string, len(c.data)+len(c.defaults))
	for k, v := range c.defaults {
		result[k] = v
	}
	for k, v := range c.data {
		if v != "" || result[k] == "" {
			result[k] = v
		}
	}
	return result
}

// Placeholders lists the distinct placeholder names used in tmpl, sorted
func Placeholders(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		name := strings.TrimSpace(m[1])
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
