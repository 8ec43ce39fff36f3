// Package headers provides an ordered header multimap with case-insensitive
// names.
//
// net/http stores headers in a map, which loses the order a peer sent them
// in. Ordered keeps the order fields were added and allows repeated names,
// which is what trace rendering and stored message metadata need.
package headers

import (
	"io"
	"net/http"
	"slices"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Ordered is an insertion-ordered header multimap. Name comparison is case
// insensitive; the spelling of the first Add is kept for rendering.
// The zero value is ready to use.
type Ordered struct {
	fields []Field
}

// New returns an Ordered populated with the given fields.
func New(fields ...Field) *Ordered {
	o := &Ordered{fields: make([]Field, 0, len(fields))}
	for _, f := range fields {
		o.Add(f.Name, f.Value)
	}
	return o
}

// FromHTTP snapshots an http.Header. Names are visited in sorted canonical
// order and the values of each name keep their original order.
func FromHTTP(h http.Header) *Ordered {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	slices.Sort(names)

	o := &Ordered{}
	for _, name := range names {
		for _, v := range h[name] {
			o.Add(name, v)
		}
	}
	return o
}

// Add appends a field.
func (o *Ordered) Add(name, value string) {
	o.fields = append(o.fields, Field{Name: name, Value: value})
}

// Set replaces every value of name with value. The field keeps the position
// of the first existing occurrence, or is appended when absent.
func (o *Ordered) Set(name, value string) {
	idx := o.index(name)
	if idx < 0 {
		o.Add(name, value)
		return
	}
	o.fields[idx].Value = value
	tail := slices.DeleteFunc(o.fields[idx+1:], func(f Field) bool {
		return strings.EqualFold(f.Name, name)
	})
	o.fields = o.fields[:idx+1+len(tail)]
}

// Get returns the first value of name, or "" when absent.
func (o *Ordered) Get(name string) string {
	if idx := o.index(name); idx >= 0 {
		return o.fields[idx].Value
	}
	return ""
}

// Values returns every value of name in insertion order.
func (o *Ordered) Values(name string) []string {
	var out []string
	for _, f := range o.fields {
		if strings.EqualFold(f.Name, name) {
			out = append(out, f.Value)
		}
	}
	return out
}

// Has reports whether name is present.
func (o *Ordered) Has(name string) bool {
	return o.index(name) >= 0
}

// Del removes every occurrence of name.
func (o *Ordered) Del(name string) {
	o.fields = slices.DeleteFunc(o.fields, func(f Field) bool {
		return strings.EqualFold(f.Name, name)
	})
}

// Len returns the number of fields, counting repeated names.
func (o *Ordered) Len() int {
	return len(o.fields)
}

// Fields returns a copy of the fields in order.
func (o *Ordered) Fields() []Field {
	return slices.Clone(o.fields)
}

// Names returns each distinct name once, in order of first occurrence.
func (o *Ordered) Names() []string {
	var names []string
	for _, f := range o.fields {
		if !slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, f.Name) }) {
			names = append(names, f.Name)
		}
	}
	return names
}

// Apply adds every field to h, preserving the order of repeated values.
func (o *Ordered) Apply(h http.Header) {
	for _, f := range o.fields {
		h.Add(f.Name, f.Value)
	}
}

// String renders the fields as "Name: value" lines, each terminated by "\n".
func (o *Ordered) String() string {
	var b strings.Builder
	_, _ = o.WriteTo(&b)
	return b.String()
}

// WriteTo writes the rendering of String to w.
func (o *Ordered) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, f := range o.fields {
		n, err := io.WriteString(w, f.Name+": "+f.Value+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *Ordered) index(name string) int {
	return slices.IndexFunc(o.fields, func(f Field) bool {
		return strings.EqualFold(f.Name, name)
	})
}
