package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
	RiskSafe   = "Safe"
)

type Risk struct {
	Point      string `json:"point"`
	Severity   string `json:"severity"`
	Quote      string `json:"quote"`
	SourceName string `json:"source_name"`
}

// Verdict is the structured assessment returned by the analysis model.
type Verdict struct {
	RiskScore   int      `json:"risk_score"`
	RiskLevel   string   `json:"risk_level"`
	Overview    string   `json:"overview"`
	Risks       []Risk   `json:"risks"`
	Suggestions []string `json:"suggestions"`
}

// UnmarshalJSON accepts a risk_score written as an integer, a float or a
// numeric string, rounding to the nearest integer.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	type plain Verdict
	aux := struct {
		*plain
		RiskScore json.RawMessage `json:"risk_score"`
	}{plain: (*plain)(v)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	score, err := parseScore(aux.RiskScore)
	if err != nil {
		return err
	}
	v.RiskScore = score
	return nil
}

func parseScore(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("risk_score %s is not a number", raw)
	}
	return int(math.Round(max(-1000, min(1000, f)))), nil
}

// Normalize clamps the score to 0-100, canonicalizes level names and derives
// the level from the score when the model returned something unusable.
func (v *Verdict) Normalize() {
	v.RiskScore = max(0, min(100, v.RiskScore))
	level, ok := canonicalLevel(v.RiskLevel)
	if !ok {
		level = LevelForScore(v.RiskScore)
	}
	v.RiskLevel = level
	for i := range v.Risks {
		if sev, ok := canonicalLevel(v.Risks[i].Severity); ok && sev != RiskSafe {
			v.Risks[i].Severity = sev
		} else {
			v.Risks[i].Severity = RiskLow
		}
	}
	if v.Risks == nil {
		v.Risks = []Risk{}
	}
	if v.Suggestions == nil {
		v.Suggestions = []string{}
	}
}

// LevelForScore maps a 0-100 score onto the severity bands.
func LevelForScore(score int) string {
	switch {
	case score >= 75:
		return RiskHigh
	case score >= 35:
		return RiskMedium
	case score >= 1:
		return RiskLow
	default:
		return RiskSafe
	}
}

func canonicalLevel(s string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return RiskHigh, true
	case "medium":
		return RiskMedium, true
	case "low":
		return RiskLow, true
	case "safe":
		return RiskSafe, true
	}
	return "", false
}

type TokenUsage struct {
	TotalToken int `json:"total_token"`
}

type DebugInfo struct {
	Model            string   `json:"model"`
	URL              string   `json:"url"`
	Engine           string   `json:"engine"`
	Mode             string   `json:"mode"`
	IndexStrategy    string   `json:"index_strategy,omitempty"`
	KnowledgeBase    []string `json:"knowledge_base"`
	RetrievedSources []string `json:"retrieved_sources"`
}

// ResultPayload is the data of the terminal result event.
type ResultPayload struct {
	Result         Verdict    `json:"result"`
	ScrapedContent string     `json:"scraped_content"`
	TokenUsage     TokenUsage `json:"token_usage"`
	DebugInfo      DebugInfo  `json:"debug_info"`
}
