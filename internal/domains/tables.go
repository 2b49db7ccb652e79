// Package domains classifies CONNECT destinations against the static tables
// of known AI providers: pure API endpoints (safe to deep-inspect), web UIs
// fronted by challenge-protecting CDNs (tunnel with metadata accounting), and
// identity/storage infrastructure that is never inspected.
package domains

// Kind places a destination in one of the dispatch tables.
type Kind int

const (
	KindUnknown Kind = iota
	KindAPI
	KindWebUI
	KindPassthrough
)

func (k Kind) String() string {
	switch k {
	case KindAPI:
		return "api"
	case KindWebUI:
		return "web_ui"
	case KindPassthrough:
		return "passthrough"
	default:
		return "unknown"
	}
}

// Class feeds the destination multiplier of the REU computation.
type Class string

const (
	ClassEnterpriseApproved Class = "enterprise_approved"
	ClassBusinessSaaS       Class = "business_saas"
	ClassPublicAI           Class = "public_ai"
	ClassUnknown            Class = "unknown"
	ClassBanned             Class = "banned"
)

// ValidClass reports whether s names a known destination class.
func ValidClass(s string) bool {
	switch Class(s) {
	case ClassEnterpriseApproved, ClassBusinessSaaS, ClassPublicAI, ClassUnknown, ClassBanned:
		return true
	default:
		return false
	}
}

// Entry is one domain table row.
type Entry struct {
	Domain string
	Tool   string
	Class  Class
}

// Known pure-API endpoints. Deep inspection does not disturb these: API
// clients send ordinary HTTPS requests and tolerate a proxy-minted cert once
// the CA is trusted.
var apiDomains = []Entry{
	{Domain: "api.openai.com", Tool: "OpenAI API", Class: ClassPublicAI},
	{Domain: "api.anthropic.com", Tool: "Anthropic API", Class: ClassPublicAI},
	{Domain: "api.cohere.ai", Tool: "Cohere API", Class: ClassPublicAI},
	{Domain: "api.cohere.com", Tool: "Cohere API", Class: ClassPublicAI},
	{Domain: "api.mistral.ai", Tool: "Mistral API", Class: ClassPublicAI},
	{Domain: "generativelanguage.googleapis.com", Tool: "Google Generative AI", Class: ClassPublicAI},
	{Domain: "api.groq.com", Tool: "Groq API", Class: ClassPublicAI},
	{Domain: "api.together.xyz", Tool: "Together AI", Class: ClassPublicAI},
	{Domain: "api.perplexity.ai", Tool: "Perplexity API", Class: ClassPublicAI},
	{Domain: "openrouter.ai", Tool: "OpenRouter", Class: ClassPublicAI},
	{Domain: "api.deepseek.com", Tool: "DeepSeek API", Class: ClassPublicAI},
	{Domain: "api.x.ai", Tool: "xAI API", Class: ClassPublicAI},
	{Domain: "api.fireworks.ai", Tool: "Fireworks AI", Class: ClassPublicAI},
	{Domain: "api.replicate.com", Tool: "Replicate API", Class: ClassPublicAI},
}

// AI web UIs sit behind CDNs that challenge TLS anomalies; terminating them
// breaks the product, so they are tunneled with metadata accounting only.
var webUIDomains = []Entry{
	{Domain: "chatgpt.com", Tool: "ChatGPT", Class: ClassPublicAI},
	{Domain: "chat.openai.com", Tool: "ChatGPT", Class: ClassPublicAI},
	{Domain: "claude.ai", Tool: "Claude", Class: ClassPublicAI},
	{Domain: "gemini.google.com", Tool: "Gemini", Class: ClassPublicAI},
	{Domain: "perplexity.ai", Tool: "Perplexity", Class: ClassPublicAI},
	{Domain: "copilot.microsoft.com", Tool: "Microsoft Copilot", Class: ClassPublicAI},
	{Domain: "poe.com", Tool: "Poe", Class: ClassPublicAI},
	{Domain: "chat.mistral.ai", Tool: "Le Chat", Class: ClassPublicAI},
	{Domain: "chat.deepseek.com", Tool: "DeepSeek Chat", Class: ClassPublicAI},
	{Domain: "grok.com", Tool: "Grok", Class: ClassPublicAI},
}

// Identity and storage infrastructure. Never inspected, regardless of
// settings: breaking an OAuth flow locks the user out of everything.
var passthroughDomains = []Entry{
	{Domain: "firebaseapp.com", Tool: "Firebase"},
	{Domain: "firebaseio.com", Tool: "Firebase"},
	{Domain: "firestore.googleapis.com", Tool: "Firestore"},
	{Domain: "identitytoolkit.googleapis.com", Tool: "Google Identity"},
	{Domain: "securetoken.googleapis.com", Tool: "Google Identity"},
	{Domain: "accounts.google.com", Tool: "Google OAuth"},
	{Domain: "oauth2.googleapis.com", Tool: "Google OAuth"},
	{Domain: "storage.googleapis.com", Tool: "Google Cloud Storage"},
	{Domain: "appleid.apple.com", Tool: "Apple ID"},
	{Domain: "login.microsoftonline.com", Tool: "Microsoft Login"},
	{Domain: "okta.com", Tool: "Okta"},
	{Domain: "auth0.com", Tool: "Auth0"},
}

// Web-UI hosts that also ship a desktop client. Desktop builds of these apps
// pin their certificates, so desktop_bypass routes their non-browser traffic
// straight to a metadata tunnel.
var desktopAppDomains = []string{
	"chatgpt.com",
	"claude.ai",
}
