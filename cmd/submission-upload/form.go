package main

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// outputForm stands in for the host form: submitting it writes the hidden
// fields to out.
type outputForm struct {
	out    io.Writer
	fields map[string]string
	names  []string
}

func newOutputForm(out io.Writer) *outputForm {
	return &outputForm{out: out, fields: map[string]string{}}
}

func (f *outputForm) SetHiddenField(name, value string) error {
	if _, ok := f.fields[name]; !ok {
		f.names = append(f.names, name)
	}
	f.fields[name] = value
	return nil
}

func (f *outputForm) Submit(context.Context) error {
	for _, name := range f.names {
		if _, err := fmt.Fprintf(f.out, "%s=%s\n", name, f.fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// parseAssignments turns "name=value" flags into a map keyed by name.
func parseAssignments(values []string) (map[string]string, error) {
	assignments := map[string]string{}
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid value %q, expected <file name>=<text>", v)
		}
		assignments[name] = value
	}
	return assignments, nil
}
