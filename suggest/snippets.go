package suggest

import "time"

// defaultSnippets is the built-in library loaded at engine construction.
// These are never persisted; user-authored snippets are stored alongside
// them at runtime.
func defaultSnippets() []Snippet {
	now := time.Now().UTC()
	mk := func(id, name, category, template string, variables []string, description string) Snippet {
		return Snippet{
			ID:          id,
			Name:        name,
			Category:    category,
			Template:    template,
			Variables:   variables,
			Description: description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	}
	return []Snippet{
		mk("default-cover-letter-opening", "Cover Letter Opening", "cover-letter",
			"Dear Hiring Manager,\n\nI am writing to express my strong interest in the {{basics.jobTitle}} position at {{basics.companyName}}. With my background in {{basics.primarySkill}} and passion for {{basics.industry}}, I believe I would be a valuable addition to your team.",
			[]string{"basics.jobTitle", "basics.companyName", "basics.primarySkill", "basics.industry"},
			"Professional cover letter opening"),
		mk("default-availability", "Availability Statement", "availability",
			"I am available to start {{basics.availability}} and can provide {{basics.noticePeriod}} notice to my current employer.",
			[]string{"basics.availability", "basics.noticePeriod"},
			"Standard availability statement"),
		mk("default-why-company", "Why This Company", "why-company",
			"I am particularly drawn to {{basics.companyName}} because of {{basics.companyReason}}. Your focus on {{basics.companyValue}} aligns perfectly with my professional values and career goals.",
			[]string{"basics.companyName", "basics.companyReason", "basics.companyValue"},
			"Why you want to work at this company"),
		mk("default-work-authorization", "Work Authorization", "general",
			"I am authorized to work in the United States and do not require sponsorship for employment.",
			nil,
			"Standard work authorization statement"),
		mk("default-remote-preference", "Remote Work Preference", "general",
			"I am open to {{basics.workPreference}} arrangements and can adapt to your team's collaboration style.",
			[]string{"basics.workPreference"},
			"Remote work preference statement"),
	}
}
