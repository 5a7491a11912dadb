// Package gamedata holds immutable job and ability reference tables.
//
// Tables are built once at process start and passed into the attribution
// pipeline, so tests can substitute synthetic tables.
package gamedata

// Role buckets for party composition.
const (
	RoleTank   = "T"
	RoleHealer = "H"
	RoleDPS    = "D"
)

// jobIDToCode maps the numeric job id from 261 attribute lines to the
// three-letter job code (cactbot numbering).
var jobIDToCode = map[int]string{
	19: "PLD",
	20: "MNK",
	21: "WAR",
	22: "DRG",
	23: "BRD",
	24: "WHM",
	25: "BLM",
	27: "SMN",
	28: "SCH",
	30: "NIN",
	31: "MCH",
	32: "DRK",
	33: "AST",
	34: "SAM",
	35: "RDM",
	37: "GNB",
	38: "DNC",
	39: "RPR",
	40: "SGE",
	41: "VPR",
	42: "PCT",
}

var jobCodeToRole = map[string]string{
	"PLD": RoleTank, "WAR": RoleTank, "DRK": RoleTank, "GNB": RoleTank,
	"WHM": RoleHealer, "SCH": RoleHealer, "AST": RoleHealer, "SGE": RoleHealer,
	"MNK": RoleDPS, "DRG": RoleDPS, "BRD": RoleDPS, "BLM": RoleDPS,
	"SMN": RoleDPS, "NIN": RoleDPS, "MCH": RoleDPS, "SAM": RoleDPS,
	"RDM": RoleDPS, "DNC": RoleDPS, "RPR": RoleDPS, "VPR": RoleDPS, "PCT": RoleDPS,
}

// Tables is an immutable set of job and ability lookups.
type Tables struct {
	abilityJobs map[string]string
}

// NewTables builds a Tables value over the given ability-id to job-code map.
// The map is copied; callers cannot mutate the tables afterwards.
func NewTables(abilityJobs map[string]string) Tables {
	copied := make(map[string]string, len(abilityJobs))
	for id, code := range abilityJobs {
		copied[id] = code
	}
	return Tables{abilityJobs: copied}
}

// JobCodeForID resolves a numeric job id to its three-letter code, or ""
// when the id is unknown.
func (t Tables) JobCodeForID(id int) string {
	return jobIDToCode[id]
}

// RoleForJobCode resolves a job code to its role bucket, or "" when unknown.
func (t Tables) RoleForJobCode(code string) string {
	return jobCodeToRole[code]
}

// JobCodeForAbility resolves an uppercase-hex ability id to the job that owns
// it, or "" when the ability is not a known player action.
func (t Tables) JobCodeForAbility(abilityID string) string {
	return t.abilityJobs[abilityID]
}

// AbilityCount reports the number of known player actions.
func (t Tables) AbilityCount() int {
	return len(t.abilityJobs)
}
