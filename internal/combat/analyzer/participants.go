package analyzer

import (
	"sort"
	"strings"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/event"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
)

// isPlayerID reports whether a combatant id belongs to a player character
// (player ids start with "10"; npc and pet ids use other prefixes).
func isPlayerID(id string) bool {
	return strings.HasPrefix(id, "10")
}

// registry accumulates combatant identity observed across a whole fetch
// range: id to name, and two job signals keyed by id and by name. Job
// entries are last-write-wins so a mid-session job change takes effect.
type registry struct {
	idToName  map[string]string
	idToJob   map[string]string
	nameToJob map[string]string
}

func buildRegistry(adds []event.CombatantAdd, attrs []event.AttributeUpdate, tables gamedata.Tables) *registry {
	reg := &registry{
		idToName:  make(map[string]string),
		idToJob:   make(map[string]string),
		nameToJob: make(map[string]string),
	}
	for _, add := range adds {
		if add.ID != "" && add.Name != "" {
			reg.idToName[add.ID] = add.Name
		}
	}
	for _, attr := range attrs {
		code := tables.JobCodeForID(attr.JobID)
		if code == "" {
			continue
		}
		name := attr.Name
		if name == "" {
			name = reg.idToName[attr.ID]
		}
		if attr.ID != "" {
			reg.idToJob[attr.ID] = code
		}
		if name != "" {
			reg.nameToJob[name] = code
		}
	}
	return reg
}

// assignParticipants estimates who was present in each segment from the
// add/remove combatant timeline: anyone added at or before the segment end
// and not removed strictly before the segment start.
func assignParticipants(segments []*Segment, adds []event.CombatantAdd, removes []event.CombatantRemove, reg *registry) {
	for _, seg := range segments {
		segEnd := seg.EndNs
		if segEnd == 0 {
			segEnd = seg.StartNs
		}
		segStart := seg.StartNs
		if segStart == 0 {
			segStart = seg.EndNs
		}
		if segStart == 0 || segEnd == 0 {
			seg.Participants = nil
			continue
		}

		present := make(map[string]struct{})
		for _, add := range adds {
			if add.TimestampNs > segEnd || !isPlayerID(add.ID) {
				continue
			}
			name := reg.idToName[add.ID]
			if name == "" {
				name = add.Name
			}
			if name != "" {
				present[name] = struct{}{}
			}
		}
		for _, remove := range removes {
			if remove.TimestampNs >= segStart {
				continue
			}
			name := reg.idToName[remove.ID]
			if name == "" {
				name = remove.Name
			}
			delete(present, name)
		}

		names := make([]string, 0, len(present))
		for name := range present {
			names = append(names, name)
		}
		sort.Strings(names)
		seg.Participants = names
	}
}

// inferJobsFromAbilities derives a per-segment actor-to-job map from player
// ability casts within the segment bounds. The segment-scoped signal is
// preferred over the registry's global name map because it reflects the job
// held during that specific run; the registry is also refreshed so later
// segments without casts still pick up the observation.
func inferJobsFromAbilities(segments []*Segment, abilities []event.Ability, reg *registry, tables gamedata.Tables) map[string]map[string]string {
	jobsBySegment := make(map[string]map[string]string)

	for _, seg := range segments {
		if seg.StartNs == 0 || seg.EndNs == 0 {
			continue
		}
		var segJobs map[string]string
		for _, ability := range abilities {
			if ability.TimestampNs < seg.StartNs || ability.TimestampNs > seg.EndNs {
				continue
			}
			if !isPlayerID(ability.SourceID) || ability.AbilityID == "" {
				continue
			}
			code := tables.JobCodeForAbility(strings.ToUpper(ability.AbilityID))
			if code == "" {
				continue
			}
			name := ability.SourceName
			if name == "" {
				name = reg.idToName[ability.SourceID]
			}
			if name == "" {
				continue
			}
			if segJobs == nil {
				segJobs = make(map[string]string)
			}
			segJobs[name] = code
			reg.idToJob[ability.SourceID] = code
			reg.nameToJob[name] = code
		}
		if segJobs != nil {
			jobsBySegment[seg.ID] = segJobs
		}
	}
	return jobsBySegment
}
