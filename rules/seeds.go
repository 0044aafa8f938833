package rules

// Seed rules ship for the ATS platforms we know well. They are loaded
// once at engine construction, never persisted, and always consulted
// after user rules for the same domain.

func seedRules() []Rule {
	var all []Rule
	all = append(all, greenhouseSeeds()...)
	all = append(all, leverSeeds()...)
	all = append(all, workdaySeeds()...)
	all = append(all, ashbySeeds()...)
	return all
}

func greenhouseSeeds() []Rule {
	return []Rule{
		{
			ID:         "greenhouse-name",
			Domain:     "boards.greenhouse.io",
			Field:      "basics.fullName",
			Selector:   `input[name="applicant[name]"]`,
			Confidence: 1.0,
		},
		{
			ID:         "greenhouse-email",
			Domain:     "boards.greenhouse.io",
			Field:      "basics.email",
			Selector:   `input[type="email"]`,
			Confidence: 1.0,
		},
		{
			ID:         "greenhouse-phone",
			Domain:     "boards.greenhouse.io",
			Field:      "basics.phone",
			Selector:   `input[type="tel"], input[name*="phone"]`,
			Confidence: 0.9,
		},
		{
			ID:         "greenhouse-linkedin",
			Domain:     "boards.greenhouse.io",
			Field:      "basics.links.linkedin",
			Selector:   `input[name*="linkedin"]`,
			Confidence: 0.9,
		},
	}
}

func leverSeeds() []Rule {
	return []Rule{
		{
			ID:         "lever-name",
			Domain:     "jobs.lever.co",
			Field:      "basics.fullName",
			Selector:   `input[name="name"]`,
			Confidence: 1.0,
		},
		{
			ID:         "lever-email",
			Domain:     "jobs.lever.co",
			Field:      "basics.email",
			Selector:   `input[name="email"]`,
			Confidence: 1.0,
		},
		{
			ID:         "lever-phone",
			Domain:     "jobs.lever.co",
			Field:      "basics.phone",
			Selector:   `input[name="phone"]`,
			Confidence: 0.9,
		},
	}
}

func workdaySeeds() []Rule {
	return []Rule{
		{
			ID:         "workday-email",
			Domain:     "*.myworkdayjobs.com",
			Field:      "basics.email",
			Selector:   `input[data-automation-id="email"]`,
			Confidence: 0.9,
		},
	}
}

func ashbySeeds() []Rule {
	return []Rule{
		{
			ID:         "ashby-email",
			Domain:     "*.ashbyhq.com",
			Field:      "basics.email",
			Selector:   `input[type="email"]`,
			Confidence: 0.9,
		},
	}
}
