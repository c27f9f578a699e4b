// Copyright 2025 James Ross
package item

import "regexp"

// ExtractKey applies re to the first limit bytes of data (the whole item
// when limit <= 0) and parses the named "ts" capture as an ordering Key.
// The second return value is false when the item has no key: no match, no
// capture, or an unparseable capture.
func ExtractKey(re *regexp.Regexp, limit int, data []byte) (Key, bool) {
	if re == nil {
		return Key{}, false
	}
	haystack := data
	if limit > 0 && limit < len(data) {
		haystack = data[:limit]
	}
	names := re.SubexpNames()
	m := re.FindSubmatch(haystack)
	if m == nil {
		return Key{}, false
	}
	for i, name := range names {
		if name != "ts" || i >= len(m) {
			continue
		}
		k, err := ParseKey(string(m[i]))
		if err != nil {
			return Key{}, false
		}
		return k, true
	}
	return Key{}, false
}
