package chunk

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// annotationPattern matches the three author-supplied annotation forms
// recognizes inside a doc comment: "@pampa-tags: a, b, c",
// "@pampa-intent: ..." and "@pampa-description: ...".
var annotationPattern = regexp.MustCompile(`(?i)@pampa-(tags|intent|description):\s*(.+)`)

// Annotations holds the author-supplied metadata parsed out of a chunk's
// doc comment via @pampa-tags/@pampa-intent/@pampa-description markers.
type Annotations struct {
	Tags        []string
	Intent      string
	Description string
}

// ParseAnnotations scans docComment line by line for @pampa-* markers.
// Unrecognized comments produce a zero-value Annotations, never an error --
// the markers are optional enrichment, not a required format.
func ParseAnnotations(docComment string) Annotations {
	var a Annotations
	if docComment == "" {
		return a
	}
	for _, line := range strings.Split(docComment, "\n") {
		m := annotationPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[2])
		switch strings.ToLower(m[1]) {
		case "tags":
			for _, t := range strings.Split(value, ",") {
				t = strings.ToLower(strings.TrimSpace(t))
				if t != "" {
					a.Tags = append(a.Tags, t)
				}
			}
		case "intent":
			a.Intent = value
		case "description":
			a.Description = value
		}
	}
	return a
}

// keywordTagDict is a small set of architecture keywords tested
// against the symbol name and code body; any hit contributes an
// auto-tag usable as a search scope filter.
var keywordTagDict = []string{
	"handler", "controller", "service", "repository", "client", "server",
	"middleware", "validator", "parser", "cache", "queue", "worker",
	"test", "mock", "auth", "config", "logger", "migration", "router",
	"scheduler", "listener", "factory", "builder", "adapter", "store",
}

// maxAutoTags is the cap on auto-derived tags, keeping the top 10 by
// insertion order.
const maxAutoTags = 10

// AutoTags derives a capped, deduplicated tag set from the chunk's file
// path, symbol name, and code body: path/symbol tokenization plus a small
// keyword dictionary match, keeping the top 10 by insertion order.
func AutoTags(filePath, symbolName, code string) []string {
	seen := make(map[string]struct{})
	var tags []string
	add := func(t string) bool {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || len(t) < 2 {
			return true
		}
		if _, ok := seen[t]; ok {
			return true
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
		return len(tags) < maxAutoTags
	}

	for _, seg := range strings.FieldsFunc(filePath, func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-'
	}) {
		if !add(seg) {
			return tags
		}
	}
	for _, tok := range splitIdentifierWords(symbolName) {
		if !add(tok) {
			return tags
		}
	}
	lowerCode := strings.ToLower(code)
	for _, kw := range keywordTagDict {
		if strings.Contains(lowerCode, kw) {
			if !add(kw) {
				return tags
			}
		}
	}
	return tags
}

// splitIdentifierWords breaks a camelCase/PascalCase/snake_case identifier
// into lowercase word parts.
func splitIdentifierWords(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, strings.ToLower(cur.String()))
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '_' || r == '-':
			flush()
		case r >= 'A' && r <= 'Z':
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// variablePattern identifies lines that look like a config/API/constant
// declaration worth surfacing as an "important variable": assignments to
// names that read as constants or configuration keys.
var variablePattern = regexp.MustCompile(`(?i)\b(const|var|let|static\s+final|final)\s+([A-Za-z_][A-Za-z0-9_]*)\s*[:=]\s*(.+)`)

// maxImportantVariables caps the number of variables surfaced per chunk.
const maxImportantVariables = 20

// maxVariableValueLength caps the displayed value length.
const maxVariableValueLength = 100

// ImportantVariable is one filtered variable/constant declaration found in
// a chunk's code.
type ImportantVariable struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// ImportantVariables filters code for declarations that look like
// configuration, API keys, or named constants, capping each value's
// displayed length at 100 characters and the total count at 20.
func ImportantVariables(code string) []ImportantVariable {
	var out []ImportantVariable
	for _, line := range strings.Split(code, "\n") {
		m := variablePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		if !looksLikeImportantName(name) {
			continue
		}
		value := strings.TrimSpace(m[3])
		value = strings.TrimSuffix(value, ";")
		if len(value) > maxVariableValueLength {
			value = value[:maxVariableValueLength]
		}
		out = append(out, ImportantVariable{Name: name, Value: value})
		if len(out) >= maxImportantVariables {
			break
		}
	}
	return out
}

// looksLikeImportantName heuristically matches config/API/constant-style
// identifiers: SCREAMING_SNAKE_CASE, or names containing a small set of
// recognizable keywords.
func looksLikeImportantName(name string) bool {
	if name == strings.ToUpper(name) && strings.ContainsAny(name, "_ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return true
	}
	lower := strings.ToLower(name)
	for _, kw := range []string{"key", "token", "secret", "config", "url", "endpoint", "timeout", "limit", "version", "env"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ContextInfo is the flags/size metadata attached to every chunk per
// "context info" attribute.
type ContextInfo struct {
	StartLine  int  `json:"startLine"`
	EndLine    int  `json:"endLine"`
	CodeLength int  `json:"codeLength"`
	Merged     bool `json:"merged,omitempty"`
	Subdivided bool `json:"subdivided,omitempty"`
	Part       bool `json:"part,omitempty"`
}

// EnrichMetadata populates a chunk's Metadata map with its derived tags,
// intent, description, doc comment, important variables, and context info.
// It is called from every chunk-construction site in this package so the
// enrichment is never skipped for a given emission path.
func EnrichMetadata(chunk *Chunk, docComment, code string, info ContextInfo) {
	if chunk.Metadata == nil {
		chunk.Metadata = make(map[string]string)
	}

	ann := ParseAnnotations(docComment)
	symbolName := chunk.FilePath
	if len(chunk.Symbols) > 0 {
		symbolName = chunk.Symbols[0].Name
	}

	tags := append([]string{}, ann.Tags...)
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		seen[t] = struct{}{}
	}
	for _, t := range AutoTags(chunk.FilePath, symbolName, code) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
		if len(tags) >= maxAutoTags {
			break
		}
	}
	sort.Strings(tags)
	if len(tags) > 0 {
		chunk.Metadata["tags"] = strings.Join(tags, ",")
	}
	if ann.Intent != "" {
		chunk.Metadata["intent"] = ann.Intent
	}
	if ann.Description != "" {
		chunk.Metadata["description"] = ann.Description
	}
	if docComment != "" {
		chunk.Metadata["doc_comment"] = docComment
	}

	if vars := ImportantVariables(code); len(vars) > 0 {
		chunk.Metadata["variables"] = encodeVariables(vars)
	}

	chunk.Metadata["context_info"] = encodeContextInfo(info)
}

// encodeVariables renders important variables as a compact, dependency-free
// "name=value" list so the store's generic JSON metadata column can carry
// it without pulling in encoding/json for this small, fixed-shape payload.
func encodeVariables(vars []ImportantVariable) string {
	parts := make([]string, 0, len(vars))
	for _, v := range vars {
		parts = append(parts, fmt.Sprintf("%s=%s", v.Name, strings.ReplaceAll(v.Value, "|", " ")))
	}
	return strings.Join(parts, "|")
}

// encodeContextInfo renders ContextInfo as a compact "k=v" list.
func encodeContextInfo(info ContextInfo) string {
	return strings.Join([]string{
		"startLine=" + strconv.Itoa(info.StartLine),
		"endLine=" + strconv.Itoa(info.EndLine),
		"codeLength=" + strconv.Itoa(info.CodeLength),
		"merged=" + strconv.FormatBool(info.Merged),
		"subdivided=" + strconv.FormatBool(info.Subdivided),
		"part=" + strconv.FormatBool(info.Part),
	}, ",")
}
