package models

const (
	MetadataSource   = "source"
	ContextSeparator = "\n\n"
	ThinkTag         = `(?s)<think>.*?</think>`
	CodeFence        = "(?s)```(?:json)?\\s*(.*?)\\s*```"

	DefaultRetrievalIntent = "General legal risks"
	DefaultAnalysisIntent  = "General Audit"
)

var (
	// AnalysisPromptTemplate takes the intent, the assembled context and
	// the output language.
	AnalysisPromptTemplate = `You are a pragmatic legal assistant for general users.
Analyze the following Terms-of-Service context against the user intent.

<intent>
%s
</intent>

<context>
%s
</context>

Report practical risks only, not theoretical or unlikely legal dangers.

Language: write every analysis, explanation, summary and suggestion in %s. Keep quotes in the original language of the source text, never translate them.

Calibration:
- Standard trade-offs of common digital services (personalization, ads, analytics, model improvement, sharing with affiliates or processors, moderation, logging, security scanning) are Low.
- Assume a normal, compliant user. Do not list fraud, abuse or illegal content as risks. Mention suspension or termination only when the intent conflicts with the terms (scraping, reverse engineering, commercial misuse).

Severity:
- High (75-100): the terms explicitly prohibit the intent; suspension, legal action or denial of service is likely.
- Medium (35-74): allowed but restricted (commercial limits, quotas, licensing), or data practices beyond industry norms.
- Low (1-34): boilerplate such as privacy disclaimers, liability limits, accuracy disclaimers, arbitration, standard data collection.
- Safe (0): the intent matches expected usage.

Evidence:
- "quote" must be an exact substring of the context that supports "point".
- If no sentence supports a risk, drop it or turn it into a suggestion.
- "source_name" must name the source document the quote came from.

Answer with JSON only:
{
  "risk_score": 0,
  "risk_level": "High | Medium | Low | Safe",
  "overview": "summary",
  "risks": [{"point": "", "severity": "High | Medium | Low", "quote": "", "source_name": ""}],
  "suggestions": [""]
}
`
)
