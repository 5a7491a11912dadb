package gamedata

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"regexp"
	"sort"
	"strings"
)

//go:embed definitions/*.json
var definitionsFS embed.FS

var (
	hexIDPattern     = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
	trailingCommaFix = regexp.MustCompile(`,\s*([}\]])`)
)

var jobNameToCode = map[string]string{
	"astrologian": "AST",
	"bard":        "BRD",
	"black mage":  "BLM",
	"dancer":      "DNC",
	"dark knight": "DRK",
	"dragoon":     "DRG",
	"gunbreaker":  "GNB",
	"machinist":   "MCH",
	"monk":        "MNK",
	"ninja":       "NIN",
	"paladin":     "PLD",
	"pictomancer": "PCT",
	"reaper":      "RPR",
	"red mage":    "RDM",
	"sage":        "SGE",
	"samurai":     "SAM",
	"scholar":     "SCH",
	"summoner":    "SMN",
	"viper":       "VPR",
	"warrior":     "WAR",
	"white mage":  "WHM",
}

type definitionFile struct {
	Job     string                       `json:"job"`
	Actions []map[string]json.RawMessage `json:"actions"`
}

// Load builds the reference tables from the embedded per-job definition
// files. Conflicting ability-id claims across files resolve first-seen-wins
// (lexical file order) with a logged warning.
func Load() (Tables, error) {
	return loadFrom(definitionsFS, "definitions")
}

func loadFrom(fsys fs.FS, root string) (Tables, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return Tables{}, fmt.Errorf("read definitions dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	abilityJobs := make(map[string]string)
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, root+"/"+name)
		if err != nil {
			return Tables{}, fmt.Errorf("read definition %s: %w", name, err)
		}
		def, err := parseDefinition(raw)
		if err != nil {
			log.Printf("gamedata: skip unparseable definition %s: %v", name, err)
			continue
		}

		jobCode := jobNameToCode[strings.ToLower(strings.TrimSpace(def.Job))]
		if jobCode == "" {
			continue
		}

		for _, action := range def.Actions {
			for key := range action {
				if !hexIDPattern.MatchString(key) {
					continue
				}
				abilityID := strings.ToUpper(key)
				if existing, ok := abilityJobs[abilityID]; ok && existing != jobCode {
					log.Printf("gamedata: ability %s claimed by %s and %s, keeping %s", abilityID, existing, jobCode, existing)
					continue
				}
				abilityJobs[abilityID] = jobCode
			}
		}
	}

	return NewTables(abilityJobs), nil
}

// parseDefinition decodes a definition file, tolerating trailing commas that
// some hand-maintained files carry.
func parseDefinition(raw []byte) (definitionFile, error) {
	var def definitionFile
	if err := json.Unmarshal(raw, &def); err == nil {
		return def, nil
	}
	sanitized := trailingCommaFix.ReplaceAll(raw, []byte("$1"))
	if err := json.Unmarshal(sanitized, &def); err != nil {
		return definitionFile{}, err
	}
	return def, nil
}
