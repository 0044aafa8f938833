// Package profile defines the read contract the autofill pipeline has on
// the user's profile document: dot-path lookup into a JSON-shaped tree.
// The pipeline never mutates a profile.
//
// Storage and schema validation live outside this module; what ships here
// is the lookup contract, value stringification, and the sanitization
// pass applied when a profile document crosses into the pipeline.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// Profile is a JSON-shaped document, e.g.
//
//	{"basics": {"email": "a@b.com", "location": {"city": "Austin"}}}
type Profile map[string]any

// Parse decodes a profile from JSON.
func Parse(data []byte) (Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("profile: parse: %w", err)
	}
	return p, nil
}

// Get resolves a dot-path like "basics.location.city". The second return
// is false when any segment is absent or a non-object is traversed.
func Get(p Profile, path string) (any, bool) {
	if p == nil || path == "" {
		return nil, false
	}
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// GetString resolves a dot-path and renders the value as the string that
// would be written into a form control. Nil values and missing paths
// report false.
func GetString(p Profile, path string) (string, bool) {
	v, ok := Get(p, path)
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize returns a copy of p with every string leaf stripped of HTML
// and trimmed, and basics.email lowercased. Applied once at the boundary
// when a profile document enters the pipeline.
func Sanitize(p Profile) Profile {
	out, _ := sanitizeValue(map[string]any(p)).(map[string]any)
	cleaned := Profile(out)
	if email, ok := Get(cleaned, "basics.email"); ok {
		if s, ok := email.(string); ok {
			if basics, ok := cleaned["basics"].(map[string]any); ok {
				basics["email"] = strings.ToLower(s)
			}
		}
	}
	return cleaned
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(strictPolicy.Sanitize(t))
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	default:
		return v
	}
}

// Source supplies the active profile. Implementations sit on the other
// side of the message boundary (extension storage, file, fixture).
type Source interface {
	Active(ctx context.Context) (Profile, error)
}

// Static is a fixed in-memory Source, mainly for tests and fixtures.
type Static struct{ P Profile }

func (s Static) Active(context.Context) (Profile, error) { return s.P, nil }

// FileSource loads the active profile from a JSON file, sanitizing on
// first read and caching until Invalidate.
type FileSource struct {
	Path string

	mu     sync.Mutex
	cached Profile
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Active(context.Context) (Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cached != nil {
		return f.cached, nil
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", f.Path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, err
	}
	f.cached = Sanitize(p)
	return f.cached, nil
}

// Invalidate drops the cached document so the next Active re-reads.
func (f *FileSource) Invalidate() {
	f.mu.Lock()
	f.cached = nil
	f.mu.Unlock()
}
