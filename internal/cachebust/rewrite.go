package cachebust

import (
	"bytes"
	"sort"

	"golang.org/x/net/html"
)

type rule struct {
	key     []byte
	version string
}

// Rules maps asset reference keys to their current version token
type Rules struct {
	rules  []rule // longest key first
	marker []byte // "?<param>="
}

// NewRules builds the rewrite rules for a set of scanned assets. The version
// token is carried in the query parameter param.
func NewRules(assets []Asset, param string) *Rules {
	rules := make([]rule, 0, len(assets))
	for _, a := range assets {
		rules = append(rules, rule{key: []byte(referenceKey(a, assets)), version: a.Version})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].key) != len(rules[j].key) {
			return len(rules[i].key) > len(rules[j].key)
		}
		return bytes.Compare(rules[i].key, rules[j].key) < 0
	})
	return &Rules{rules: rules, marker: []byte("?" + param + "=")}
}

// Rewrite stamps asset references in an HTML document and returns the new
// content with the number of references found. Only tag markup and the
// bodies of <style> elements are rewritten; text, comments and scripts are
// copied verbatim. When nothing changes the input slice is returned as is.
func (r *Rules) Rewrite(content []byte) ([]byte, int) {
	if len(r.rules) == 0 {
		return content, 0
	}

	z := html.NewTokenizer(bytes.NewReader(content))
	var out bytes.Buffer
	out.Grow(len(content) + 64)

	consumed, total := 0, 0
	inStyle := false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			out.Write(content[consumed:])
			break
		}
		raw := z.Raw()
		consumed += len(raw)

		switch {
		case tt == html.StartTagToken || tt == html.SelfClosingTagToken:
			seg, n := r.stamp(raw)
			out.Write(seg)
			total += n
			// TagName lower-cases raw in place, so it runs after the write.
			// The tokenizer reads a <style/> body as raw text too.
			name, _ := z.TagName()
			inStyle = string(name) == "style"
		case tt == html.TextToken && inStyle:
			seg, n := r.stamp(raw)
			out.Write(seg)
			total += n
		default:
			out.Write(raw)
			if tt == html.EndTagToken {
				inStyle = false
			}
		}
	}

	if total == 0 {
		return content, 0
	}
	return out.Bytes(), total
}

// stamp rewrites every reference in seg. The returned slice aliases seg when
// no reference is present.
func (r *Rules) stamp(seg []byte) ([]byte, int) {
	var out []byte
	last, n := 0, 0

	for i := 0; i < len(seg); {
		if i > 0 && isNameByte(seg[i-1]) {
			i++
			continue
		}
		matched := false
		for _, ru := range r.rules {
			if !bytes.HasPrefix(seg[i:], ru.key) {
				continue
			}
			end := i + len(ru.key)
			next, ok := r.referenceEnd(seg, end)
			if !ok {
				continue
			}
			if out == nil {
				out = make([]byte, 0, len(seg)+32)
			}
			out = append(out, seg[last:end]...)
			out = append(out, r.marker...)
			out = append(out, ru.version...)
			last = next
			i = next
			n++
			matched = true
			break
		}
		if !matched {
			i++
		}
	}

	if out == nil {
		return seg, n
	}
	return append(out, seg[last:]...), n
}

// referenceEnd checks what follows a key ending at end. It returns the offset
// just past the reference (including a previous version marker) and whether
// the key really is a complete reference to the asset.
func (r *Rules) referenceEnd(seg []byte, end int) (int, bool) {
	if end == len(seg) {
		return end, true
	}
	c := seg[end]
	if c == '?' {
		// Only our own marker is replaced; any other query string is left alone.
		if !bytes.HasPrefix(seg[end:], r.marker) {
			return 0, false
		}
		j := end + len(r.marker)
		for j < len(seg) && seg[j] >= '0' && seg[j] <= '9' {
			j++
		}
		if j < len(seg) && isNameByte(seg[j]) {
			return 0, false
		}
		return j, true
	}
	if isNameByte(c) {
		return 0, false
	}
	return end, true
}

// isNameByte reports whether c can be part of a file name in a URL path.
func isNameByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '.', c == '_', c == '-', c == '~', c == '+', c == '%':
		return true
	}
	return false
}
