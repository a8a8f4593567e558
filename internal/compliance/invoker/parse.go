package invoker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"fieldops/internal/compliance/models"
)

// findingsKeys are the top-level fields that may carry the findings list.
// "requirements" is what the policy asks for; "findings" is accepted drift.
var findingsKeys = []string{"requirements", "findings"}

// parseFindings decodes the reasoning-service document. Any shape problem is
// returned as an error and no finding is kept: a half-understood response must
// never produce rows.
func parseFindings(content string) ([]models.Finding, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("response is not a JSON object: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("response is null")
	}

	var rawList json.RawMessage
	for _, key := range findingsKeys {
		if v, ok := doc[key]; ok {
			rawList = v
			break
		}
	}
	if len(rawList) == 0 || bytes.Equal(bytes.TrimSpace(rawList), []byte("null")) {
		return []models.Finding{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(rawList, &items); err != nil {
		return nil, fmt.Errorf("findings field is not an array: %w", err)
	}

	findings := make([]models.Finding, 0, len(items))
	for i, item := range items {
		f, err := parseFinding(item)
		if err != nil {
			return nil, fmt.Errorf("finding %d: %w", i, err)
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func parseFinding(item json.RawMessage) (models.Finding, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
		return models.Finding{}, fmt.Errorf("not a JSON object")
	}

	f := models.Finding{
		RequirementID: scalarString(fields["requirementId"]),
		RegulationID:  scalarString(fields["regulationId"]),
		Status:        scalarString(fields["status"]),
		RiskScore:     riskScore(fields["riskScore"]),
		Raw:           append(json.RawMessage(nil), item...),
	}
	if steps, ok := fields["remediation"]; ok {
		f.Remediation = stringList(steps)
	} else {
		f.Remediation = stringList(fields["remediationSteps"])
	}
	return f, nil
}

// scalarString accepts strings and numbers; section numbers like 1926.501
// sometimes come back unquoted.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		return n.String()
	}
	return ""
}

// riskScore accepts a number or numeric string and clamps it to 0-100.
func riskScore(raw json.RawMessage) *float64 {
	s := scalarString(raw)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	v = min(max(v, 0), 100)
	return &v
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	if s := scalarString(raw); s != "" {
		return []string{s}
	}
	return nil
}
