package classify

import "regexp"

// Pattern is one detection rule inside a category group.
type Pattern struct {
	// Name is the rule identifier (e.g. "ssn"), reported in details.
	Name string

	// Category is the group this rule scores under.
	Category Category

	// Regex is the compiled rule.
	Regex *regexp.Regexp

	// Validate optionally filters regex hits (e.g. Luhn for cards).
	Validate func(match string) bool
}

// Matches reports whether the pattern hits content at least once.
// Scoring counts distinct patterns, not occurrences, so one hit is
// enough.
func (p *Pattern) Matches(content string) bool {
	if p.Validate == nil {
		return p.Regex.MatchString(content)
	}
	for _, m := range p.Regex.FindAllString(content, -1) {
		if p.Validate(m) {
			return true
		}
	}
	return false
}

// Shared expressions. The redactor reuses these so classification and
// redaction agree on what counts as a hit.
var (
	SSNRegex     = regexp.MustCompile(`\b\d{3}[-.\s]?\d{2}[-.\s]?\d{4}\b`)
	EmailRegex   = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	PhoneRegex   = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)
	CardRegex    = regexp.MustCompile(`\b(?:\d[ -]?){15}\d\b`)
	RFC1918Regex = regexp.MustCompile(`\b(?:10\.(?:\d{1,3}\.){2}\d{1,3}|192\.168\.\d{1,3}\.\d{1,3}|172\.(?:1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3})\b`)
)

// builtinPatterns returns the full rule table. Order inside each group
// is stable; the classifier reports groups in categoryOrder.
func builtinPatterns() []Pattern {
	return []Pattern{
		// pii
		{Name: "ssn", Category: CategoryPII, Regex: SSNRegex},
		{Name: "email", Category: CategoryPII, Regex: EmailRegex},
		{Name: "phone", Category: CategoryPII, Regex: PhoneRegex},
		{Name: "full_name", Category: CategoryPII,
			Regex: regexp.MustCompile(`\b[A-Z][a-z]+\s+[A-Z][a-z]+\b`)},
		{Name: "street_address", Category: CategoryPII,
			Regex: regexp.MustCompile(`(?i)\b\d{1,5}\s+(?:[A-Za-z]+\s+){1,3}(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|place|pl)\b`)},
		{Name: "date_of_birth", Category: CategoryPII,
			Regex: regexp.MustCompile(`(?i)\b(?:date\s+of\s+birth|dob|born\s+on)\b`)},

		// financial
		{Name: "credit_card", Category: CategoryFinancial, Regex: CardRegex, Validate: LuhnValid},
		{Name: "bank_account", Category: CategoryFinancial,
			Regex: regexp.MustCompile(`(?i)\b(?:routing|account)\s*(?:number|no\.?|#)?\s*:?\s*\d{6,17}\b`)},
		{Name: "iban_swift", Category: CategoryFinancial,
			Regex: regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b|(?i:\bSWIFT\s*(?:code)?\s*:?\s*[A-Z0-9]{8,11}\b)`)},
		{Name: "dollar_amount", Category: CategoryFinancial,
			Regex: regexp.MustCompile(`\$\s?\d+(?:,\d{3})*(?:\.\d+)?`)},
		{Name: "earnings_keywords", Category: CategoryFinancial,
			Regex: regexp.MustCompile(`(?i)\b(?:quarterly\s+(?:earnings|results)|revenue\s+(?:projections?|forecasts?)|profit\s+margins?|ebitda|balance\s+sheet|income\s+statement)\b`)},

		// source_code
		{Name: "function_def", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`\b(?:function|func|def|fn)\s+[A-Za-z_]\w*\s*\(`)},
		{Name: "import_statement", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`\bimport\b[\w{},*\s]+\bfrom\b\s*['"]|(?m:^\s*(?:import|from)\s+[\w.]+)`)},
		{Name: "sql_query", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`(?is)\b(?:select|insert|update|delete)\b.{0,160}?\b(?:from|into|set|where)\b`)},
		{Name: "arrow_or_block", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`=>|\)\s*\{`)},
		{Name: "code_comment", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`(?m)^\s*(?://[^\n]*|/\*|\*/)`)},
		{Name: "type_def", Category: CategorySourceCode,
			Regex: regexp.MustCompile(`\b(?:class|interface|struct|enum)\s+[A-Z]\w*`)},

		// phi
		{Name: "medical_keywords", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\b(?:diagnos(?:is|ed|es)|prescri(?:ption|bed)|medication|treatment\s+plan|patient|medical\s+record|mrn)\b`)},
		{Name: "icd_code", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i:\bICD[-\s]?(?:9|10|11)(?:[-\s]?(?:CM|PCS))?\b)|\b[A-TV-Z]\d{2}\.\d{1,4}\b`)},
		{Name: "procedure_code", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\b(?:CPT|HCPCS)\b[-:\s]*\d{4,5}\b`)},
		{Name: "ndc_code", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\bNDC\b[-:\s]*\d{4,5}-\d{3,4}-\d{1,2}\b`)},
		{Name: "vitals", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\b(?:blood\s+pressure|heart\s+rate|pulse)\b\s*:?\s*\d{2,3}(?:\s?/\s?\d{2,3})?`)},
		{Name: "imaging", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\b(?:x-?ray|mri|ct\s+scan|ultrasound|radiology|mammogram)\b`)},
		{Name: "hipaa", Category: CategoryPHI,
			Regex: regexp.MustCompile(`(?i)\bHIPAA\b`)},

		// trade_secret
		{Name: "confidential", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`(?i)\bconfidential\b`)},
		{Name: "nda", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`\bNDA\b|(?i:\bnon[-\s]?disclosure\b)`)},
		{Name: "patent_pending", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`(?i)\bpatent\s+pending\b`)},
		{Name: "strategic_plan", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`(?i)\bstrategic\s+(?:plan|roadmap|initiative)s?\b`)},
		{Name: "proprietary", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`(?i)\bproprietary\b`)},
		{Name: "restricted_marker", Category: CategoryTradeSecret,
			Regex: regexp.MustCompile(`(?i)\b(?:internal\s+use\s+only|do\s+not\s+distribute|company\s+confidential)\b`)},

		// internal_url
		{Name: "rfc1918_address", Category: CategoryInternalURL, Regex: RFC1918Regex},
		{Name: "localhost", Category: CategoryInternalURL,
			Regex: regexp.MustCompile(`(?i)\blocalhost\b|\b127\.0\.0\.1\b`)},
		{Name: "internal_hostname", Category: CategoryInternalURL,
			Regex: regexp.MustCompile(`(?i)\b[a-z0-9][\w\-]*(?:\.[\w\-]+)*\.(?:internal|corp|local|lan)\b`)},
	}
}
