package formats

import (
	"encoding/json"
	"fmt"

	"racewatch/internal/engine/race"
	"racewatch/internal/shared/version"
)

// SARIF v2.1.0 schema – see https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json

const (
	sarifSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
	sarifVersion = "2.1.0"

	fingerprintKey = "racewatch/v1"
)

var ruleIDs = map[race.RaceType]string{
	race.RaceWriteWrite:     "RACE001",
	race.RaceReadWrite:      "RACE002",
	race.RaceWriteRead:      "RACE003",
	race.RaceInitialization: "RACE004",
	race.RaceErrorHandling:  "RACE005",
}

var ruleDescriptions = map[race.RaceType]string{
	race.RaceWriteWrite:     "Two concurrent writes to the same shared state.",
	race.RaceReadWrite:      "A read may observe shared state before a concurrent write lands.",
	race.RaceWriteRead:      "A write may land while a concurrent reader holds a stale value.",
	race.RaceInitialization: "Shared state may be initialized more than once concurrently.",
	race.RaceErrorHandling:  "Error handling paths may leave shared state inconsistent.",
}

type sarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Rules   []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	ShortDescription sarifMessage           `json:"shortDescription"`
	DefaultConfig    sarifRuleDefaultConfig `json:"defaultConfiguration"`
}

type sarifRuleDefaultConfig struct {
	Level string `json:"level"`
}

type sarifResult struct {
	RuleID              string            `json:"ruleId"`
	Level               string            `json:"level"`
	Message             sarifMessage      `json:"message"`
	Locations           []sarifLocation   `json:"locations,omitempty"`
	RelatedLocations    []sarifLocation   `json:"relatedLocations,omitempty"`
	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	Suppressions        []sarifSuppressed `json:"suppressions,omitempty"`
	Properties          map[string]any    `json:"properties,omitempty"`
}

type sarifSuppressed struct {
	Kind          string `json:"kind"`
	Justification string `json:"justification,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	ID               int                   `json:"id,omitempty"`
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
	Message          *sarifMessage         `json:"message,omitempty"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           *sarifRegion          `json:"region,omitempty"`
}

type sarifArtifactLocation struct {
	URI       string `json:"uri"`
	URIBaseID string `json:"uriBaseId"`
}

type sarifRegion struct {
	StartLine int `json:"startLine,omitempty"`
}

// GenerateSARIF builds a SARIF v2.1.0 document with one result per race.
// Mitigated races are kept but marked as suppressed so code-scanning UIs
// hide them by default. File URIs are relative to data.ProjectRoot.
func GenerateSARIF(data ReportData) ([]byte, error) {
	races := data.Result.Races
	results := make([]sarifResult, 0, len(races))
	for _, r := range races {
		result := sarifResult{
			RuleID:  ruleIDs[r.Type],
			Level:   severityLevel(r.Severity),
			Message: sarifMessage{Text: resultMessage(r)},
			Locations: []sarifLocation{
				accessLocation(data.ProjectRoot, r.Accesses[0], 0, ""),
			},
			RelatedLocations: []sarifLocation{
				accessLocation(data.ProjectRoot, r.Accesses[1], 1,
					fmt.Sprintf("conflicting %s in %s", r.Accesses[1].Type, atomLabel(r.Accesses[1]))),
			},
			PartialFingerprints: map[string]string{fingerprintKey: r.Fingerprint()},
			Properties: map[string]any{
				"stateKey": r.StateKey,
				"severity": string(r.Severity),
				"rawScore": r.Risk.RawScore,
			},
		}
		if result.RuleID == "" {
			result.RuleID = "RACE000"
		}
		if r.HasMitigation {
			result.Suppressions = []sarifSuppressed{{
				Kind:          "external",
				Justification: "mitigated by " + r.Mitigation.MitigationType,
			}}
		}
		results = append(results, result)
	}

	report := sarifReport{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs: []sarifRun{
			{
				Tool: sarifTool{
					Driver: sarifDriver{
						Name:    "racewatch",
						Version: version.Version,
						Rules:   buildSARIFRules(races),
					},
				},
				Results: results,
			},
		},
	}

	return json.MarshalIndent(report, "", "  ")
}

// buildSARIFRules returns only the rules that are relevant for the given races.
func buildSARIFRules(races []race.Race) []sarifRule {
	present := make(map[race.RaceType]bool)
	for _, r := range races {
		present[r.Type] = true
	}
	rules := make([]sarifRule, 0, len(present))
	for _, t := range race.AllRaceTypes {
		if !present[t] {
			continue
		}
		level := "warning"
		if t == race.RaceWriteWrite || t == race.RaceInitialization {
			level = "error"
		}
		rules = append(rules, sarifRule{
			ID:               ruleIDs[t],
			Name:             ruleName(t),
			ShortDescription: sarifMessage{Text: ruleDescriptions[t]},
			DefaultConfig:    sarifRuleDefaultConfig{Level: level},
		})
	}
	return rules
}

func ruleName(t race.RaceType) string {
	switch t {
	case race.RaceWriteWrite:
		return "WriteWriteRace"
	case race.RaceReadWrite:
		return "ReadWriteRace"
	case race.RaceWriteRead:
		return "WriteReadRace"
	case race.RaceInitialization:
		return "InitializationRace"
	default:
		return "ErrorHandlingRace"
	}
}

func resultMessage(r race.Race) string {
	if r.Description != "" {
		return r.Description
	}
	return fmt.Sprintf("Possible %s race on %s between %s and %s",
		r.Type.Label(), r.StateKey, atomLabel(r.Accesses[0]), atomLabel(r.Accesses[1]))
}

func accessLocation(projectRoot string, a race.AccessPoint, id int, msg string) sarifLocation {
	uri := relPath(projectRoot, a.File)
	if uri == "" {
		// Atom ids stand in for files when the snapshot has none.
		uri = a.Atom
	}
	loc := sarifLocation{
		ID: id,
		PhysicalLocation: sarifPhysicalLocation{
			ArtifactLocation: sarifArtifactLocation{URI: uri, URIBaseID: "%SRCROOT%"},
		},
	}
	if a.Line > 0 {
		loc.PhysicalLocation.Region = &sarifRegion{StartLine: a.Line}
	}
	if msg != "" {
		loc.Message = &sarifMessage{Text: msg}
	}
	return loc
}
