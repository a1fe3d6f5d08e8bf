package prober

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compilePattern(p string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache[p] = re
	return re, nil
}

// ParseJSON decodes body, keeping numbers as json.Number.
func ParseJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Lookup walks a dot path through maps and arrays.
func Lookup(doc any, path string) (any, bool) {
	if path == "" {
		return doc, true
	}
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Stringify renders a JSON value for comparisons and captures.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case map[string]any, []any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Evaluate applies c to doc. It returns the captured value (if any) and a
// non-nil error describing the first failed predicate.
func (c JSONCheck) Evaluate(doc any) (string, error) {
	v, found := Lookup(doc, c.Field)
	label := c.Field
	if label == "" {
		label = "$"
	}

	if c.Exists != nil {
		if *c.Exists && !found {
			return "", fmt.Errorf("%s: missing", label)
		}
		if !*c.Exists {
			if found {
				return "", fmt.Errorf("%s: present but expected absent", label)
			}
			return "", nil
		}
	}
	needsValue := c.Equals != nil || c.Matches != "" || c.MinItems != nil || c.Contains != "" || c.Capture != ""
	if needsValue && !found {
		return "", fmt.Errorf("%s: missing", label)
	}

	s := Stringify(v)
	if c.Equals != nil && s != Stringify(c.Equals) {
		return "", fmt.Errorf("%s: got %q, want %q", label, s, Stringify(c.Equals))
	}
	if c.Matches != "" {
		re, err := compilePattern(c.Matches)
		if err != nil {
			return "", fmt.Errorf("%s: bad pattern: %w", label, err)
		}
		if !re.MatchString(s) {
			return "", fmt.Errorf("%s: %q does not match %s", label, s, c.Matches)
		}
	}
	if c.MinItems != nil {
		arr, ok := v.([]any)
		if !ok {
			return "", fmt.Errorf("%s: not an array", label)
		}
		if len(arr) < *c.MinItems {
			return "", fmt.Errorf("%s: %d items, want at least %d", label, len(arr), *c.MinItems)
		}
	}
	if c.Contains != "" {
		if !containsValue(v, c.Contains) {
			return "", fmt.Errorf("%s: does not contain %q", label, c.Contains)
		}
	}
	return s, nil
}

func containsValue(v any, want string) bool {
	switch t := v.(type) {
	case []any:
		for _, el := range t {
			if Stringify(el) == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(Stringify(v), want)
	}
}

// SelectorCount returns the number of nodes matching selector in an HTML body.
func SelectorCount(body []byte, selector string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("parse html: %w", err)
	}
	return doc.Find(selector).Length(), nil
}
