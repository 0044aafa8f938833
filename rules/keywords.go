package rules

import "strings"

// fieldPattern is one entry of the canonical keyword table. Both the
// heuristic mapping pass and the suggestion engine resolve fields through
// this table, so the two can never drift apart on phrasing.
type fieldPattern struct {
	field    string
	types    []string // input type attribute matches
	keywords []string // substring matches against label, placeholder, name
}

// fieldPatterns is ordered: the first matching entry wins. More specific
// phrasings ("first name") sit above generic ones ("name").
var fieldPatterns = []fieldPattern{
	{field: "basics.email", types: []string{"email"}, keywords: []string{"email"}},
	{field: "basics.phone", types: []string{"tel"}, keywords: []string{"phone", "telephone"}},
	{field: "basics.firstName", keywords: []string{"first name", "firstname", "first", "fname"}},
	{field: "basics.lastName", keywords: []string{"last name", "lastname", "surname", "last", "lname"}},
	{field: "basics.fullName", keywords: []string{"full name", "name"}},
	{field: "basics.links.linkedin", keywords: []string{"linkedin"}},
	{field: "basics.links.github", keywords: []string{"github"}},
	{field: "basics.links.website", keywords: []string{"website", "portfolio"}},
	{field: "basics.location.city", keywords: []string{"city"}},
	{field: "basics.location.region", keywords: []string{"state", "region"}},
	{field: "basics.location.country", keywords: []string{"country"}},
	{field: "answers.workAuthorizationUS", keywords: []string{"work authorization", "eligible to work", "work_auth"}},
	{field: "answers.relocation", keywords: []string{"relocation", "willing to relocate"}},
	{field: "answers.noticePeriodDays", keywords: []string{"notice", "available"}},
}

// FieldHints is the descriptive surface of a candidate the classifier
// looks at. All comparisons are case-insensitive.
type FieldHints struct {
	Label       string
	Placeholder string
	Name        string
	Type        string
}

func (h FieldHints) lowered() FieldHints {
	return FieldHints{
		Label:       strings.ToLower(h.Label),
		Placeholder: strings.ToLower(h.Placeholder),
		Name:        strings.ToLower(h.Name),
		Type:        strings.ToLower(h.Type),
	}
}

func (h FieldHints) containsAny(keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(h.Label, kw) ||
			strings.Contains(h.Placeholder, kw) ||
			strings.Contains(h.Name, kw) {
			return true
		}
	}
	return false
}

// GuessField maps descriptive hints to a profile dot-path, or "" when no
// pattern matches.
func GuessField(hints FieldHints) string {
	h := hints.lowered()
	for _, p := range fieldPatterns {
		for _, t := range p.types {
			if h.Type == t {
				return p.field
			}
		}
		if h.containsAny(p.keywords) {
			return p.field
		}
	}
	return ""
}

// FieldConfidence scores how strongly the hints point at the given field:
// 0.9 for an exact short-name substring match, 0.8 for a type-backed
// email/tel match, 0.6 for a 4-character partial, 0.3 floor otherwise.
func FieldConfidence(hints FieldHints, field string) float64 {
	if field == "" {
		return 0
	}
	h := hints.lowered()

	parts := strings.Split(field, ".")
	fieldName := parts[len(parts)-1]

	if strings.Contains(h.Label, fieldName) ||
		strings.Contains(h.Placeholder, fieldName) ||
		strings.Contains(h.Name, fieldName) {
		return 0.9
	}

	if strings.Contains(field, "email") && h.Type == "email" {
		return 0.8
	}
	if strings.Contains(field, "phone") && h.Type == "tel" {
		return 0.8
	}

	if len(fieldName) >= 4 {
		prefix := fieldName[:4]
		if strings.Contains(h.Label, prefix) || strings.Contains(h.Placeholder, prefix) {
			return 0.6
		}
	}
	return 0.3
}

// MatchDomain reports whether host matches a rule domain pattern: either
// an exact host or a wildcard like "*.example.com", which matches any
// subdomain of example.com but not the apex itself.
func MatchDomain(pattern, host string) bool {
	if pattern == host {
		return true
	}
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return false
}
