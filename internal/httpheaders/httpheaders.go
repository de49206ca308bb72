// Package httpheaders merges configured backend headers and applies them
// to outgoing requests.
package httpheaders

import (
	"net/http"
	"sort"
	"strings"
)

// Set writes name=value, replacing any key that differs only in case.
func Set(headers map[string]string, name, value string) map[string]string {
	name = strings.TrimSpace(name)
	if name == "" {
		return headers
	}
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	if existing, ok := findFold(headers, name); ok && existing != name {
		delete(headers, existing)
	}
	headers[name] = value
	return headers
}

// Merge copies src into dst with case-insensitive keys. Existing dst
// entries win unless overwrite is set.
func Merge(dst, src map[string]string, overwrite bool) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for _, key := range sortedKeys(src) {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		if existing, ok := findFold(dst, name); ok {
			if !overwrite {
				continue
			}
			delete(dst, existing)
		}
		dst[name] = src[key]
	}
	return dst
}

// Bearer returns a copy of headers with an Authorization bearer token.
// An Authorization header already present in headers is kept.
func Bearer(headers map[string]string, token string) map[string]string {
	out := Merge(nil, headers, true)
	if token == "" {
		return out
	}
	return Merge(out, map[string]string{"Authorization": "Bearer " + token}, false)
}

// Apply sets every entry of headers on req, replacing existing values.
func Apply(req *http.Request, headers map[string]string) {
	for _, key := range sortedKeys(headers) {
		name := strings.TrimSpace(key)
		if name == "" {
			continue
		}
		req.Header.Set(name, headers[key])
	}
}

func sortedKeys(src map[string]string) []string {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li := strings.ToLower(strings.TrimSpace(keys[i]))
		lj := strings.ToLower(strings.TrimSpace(keys[j]))
		if li == lj {
			return keys[i] < keys[j]
		}
		return li < lj
	})
	return keys
}

func findFold(headers map[string]string, name string) (string, bool) {
	for key := range headers {
		if strings.EqualFold(strings.TrimSpace(key), name) {
			return key, true
		}
	}
	return "", false
}
