package gateway

import (
	"strings"
	"text/template"
)

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"quote": func(s string) string { return strings.ReplaceAll(s, `"""`, `"`) },
}).Parse(`
{{define "scam-patterns"}}You are a fraud analyst protecting phone users from scams.
Read the call transcript below{{if .Language}} (language: {{.Language}}){{end}} and decide whether it shows scam patterns
such as impersonation, requests for codes or transfers, secrecy or artificial deadlines.

Transcript:
"""
{{quote .Transcription}}
"""

Reply with JSON only: {"isScam": <bool>, "rationale": "<one or two sentences>"}{{end}}

{{define "emotional-manipulation"}}You are an expert in social engineering.
Identify manipulation tactics in the text below: urgency, guilt induction and fear induction.
Classify the overall sentiment as one of Positive, Neutral, Negative, Stressed or Threatening.

Text:
"""
{{quote .Text}}
"""

Reply with JSON only: {"urgencyDetected": <bool>, "guiltInductionDetected": <bool>, "fearInductionDetected": <bool>, "overallSentiment": "<label>", "rationale": "<one sentence>"}{{end}}

{{define "synthetic-voice"}}You are an audio forensics analyst. Decide whether the attached recording is synthetic
(text to speech or a cloned voice) or a natural human voice.

Reply with JSON only: {"isSynthetic": <bool>, "confidence": <number between 0 and 1>, "rationale": "<one sentence>"}{{end}}

{{define "pattern-update"}}You maintain a list of active phone scam patterns for the region {{.Region}}.
Summarise the recent reports below into a concise bullet list of patterns users should watch for.

Reports:
"""
{{quote .RecentScamReports}}
"""

Reply with JSON only: {"updatedScamPatterns": "<bullet list as a single string>"}{{end}}
`))

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
