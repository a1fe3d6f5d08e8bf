package browser

import (
	"fmt"
	"strings"
	"unicode"
)

// SelectorStrategy is one way of locating a form field from its logical
// name.
type SelectorStrategy string

const (
	ByName           SelectorStrategy = "name"
	ByID             SelectorStrategy = "id"
	ByPlaceholder    SelectorStrategy = "placeholder"
	ByLabelProximity SelectorStrategy = "label"
	ByRole           SelectorStrategy = "role"
)

// Strategies is the order fields are looked up in.
var Strategies = []SelectorStrategy{ByName, ByID, ByPlaceholder, ByLabelProximity, ByRole}

const markAttr = "data-probekit-field"

func markedSelector(field string) string {
	return fmt.Sprintf(`[%s=%s]`, markAttr, jsString(field))
}

// Variants returns the spellings a logical field name is tried under:
// as given, snake_case and kebab-case.
func Variants(field string) []string {
	out := []string{field}
	seen := map[string]bool{field: true}
	words := splitWords(field)
	for _, sep := range []string{"_", "-"} {
		v := strings.ToLower(strings.Join(words, sep))
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Humanize turns "confirmPassword" into "confirm password".
func Humanize(field string) string {
	return strings.ToLower(strings.Join(splitWords(field), " "))
}

func splitWords(s string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r) && i > 0 && !unicode.IsUpper(runes[i-1]):
			flush()
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

// locatorScript returns a page expression that finds field with strategy,
// marks the element with markAttr and yields its tag name, or "" when the
// strategy finds nothing.
func locatorScript(strategy SelectorStrategy, field string) string {
	variants := jsStrings(Variants(field))
	human := jsString(Humanize(field))
	var find string
	switch strategy {
	case ByName:
		find = fmt.Sprintf(`(function(){var v=%s;for(var i=0;i<v.length;i++){var e=document.querySelector('[name="'+CSS.escape(v[i])+'"]:not([type=hidden])');if(e)return e;}return null;})()`, variants)
	case ByID:
		find = fmt.Sprintf(`(function(){var v=%s;for(var i=0;i<v.length;i++){var e=document.getElementById(v[i]);if(e)return e;}return null;})()`, variants)
	case ByPlaceholder:
		find = fmt.Sprintf(`(function(){var h=%s;var els=document.querySelectorAll('input[placeholder],textarea[placeholder]');for(var i=0;i<els.length;i++){if(els[i].placeholder.toLowerCase().indexOf(h)>=0)return els[i];}return null;})()`, human)
	case ByLabelProximity:
		find = fmt.Sprintf(`(function(){var h=%s;var ls=document.querySelectorAll('label');for(var i=0;i<ls.length;i++){var l=ls[i];if(l.textContent.trim().toLowerCase().indexOf(h)<0)continue;if(l.control)return l.control;var n=l.nextElementSibling;while(n&&['INPUT','TEXTAREA','SELECT'].indexOf(n.tagName)<0)n=n.nextElementSibling;if(n)return n;var c=l.parentElement&&l.parentElement.querySelector('input,textarea,select');if(c)return c;}return null;})()`, human)
	case ByRole:
		find = fmt.Sprintf(`(function(){var h=%s;var els=document.querySelectorAll('[role=textbox],[role=combobox],[role=searchbox]');for(var i=0;i<els.length;i++){var a=(els[i].getAttribute('aria-label')||'').toLowerCase();if(a.indexOf(h)>=0)return els[i];}return null;})()`, human)
	default:
		return `""`
	}
	return fmt.Sprintf(`(function(){var e=%s;if(!e)return "";document.querySelectorAll('[%s=%s]').forEach(function(o){o.removeAttribute('%s');});e.setAttribute('%s',%s);return e.tagName;})()`,
		find, markAttr, jsString(field), markAttr, markAttr, jsString(field))
}

func jsStrings(ss []string) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = jsString(s)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
