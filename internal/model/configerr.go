package model

import (
	"fmt"
	"regexp"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

var (
	reIncomplete = regexp.MustCompile(`(?i)incomplete value`)
	reNotAllowed = regexp.MustCompile(`(?i)not allowed|unknown field`)
	reConflict   = regexp.MustCompile(`(?i)conflicting values|cannot unify|incompatible`)
	reMismatch   = regexp.MustCompile(`(?i)expected .* got .*|out of bound`)
)

// CueErrDetails turns a CUE validation error into one human readable line
// per underlying problem, deduplicated by position.
func CueErrDetails(err error) []string {
	if err == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		raw := fmt.Sprintf(format, args...)
		path := normalizePath(e.Path())

		line := classify(raw, path)
		if pos := position(e); pos != "" {
			line += " (" + pos + ")"
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}

	if len(out) == 0 {
		out = append(out, err.Error())
	}
	return out
}

func classify(raw, path string) string {
	field := last(path)
	switch {
	case reNotAllowed.MatchString(raw):
		return fmt.Sprintf("field %s is not allowed", field)
	case reIncomplete.MatchString(raw):
		return fmt.Sprintf("field %s is required", field)
	case reConflict.MatchString(raw):
		return fmt.Sprintf("conflicting values for %s: %s", field, raw)
	case reMismatch.MatchString(raw):
		return fmt.Sprintf("field %s has wrong type or value: %s", field, raw)
	default:
		if path != "" {
			return path + ": " + raw
		}
		return raw
	}
}

func position(err cueerrors.Error) string {
	for _, p := range cueerrors.Positions(err) {
		if p.Filename() == "" {
			continue
		}
		return fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
	}
	return ""
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// drop the leading #Config definition
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}

func last(p string) string {
	if i := strings.LastIndexByte(p, '.'); i >= 0 {
		return p[i+1:]
	}
	return p
}
