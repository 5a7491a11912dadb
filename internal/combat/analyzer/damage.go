package analyzer

import (
	"math"
	"sort"
	"time"

	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/event"
	"github.com/piyoraik/ffxiv-diecord-notify/internal/combat/gamedata"
)

// attachDamage folds damage events into per-player totals for each segment
// with known bounds, computes duration and DPS, and resolves each player's
// job and role. Segment-scoped job signals win over the registry's global
// name map. Players sort by total damage descending.
func attachDamage(segments []*Segment, damage []event.Damage, jobsBySegment map[string]map[string]string, reg *registry, tables gamedata.Tables) {
	for index, seg := range segments {
		seg.GlobalIndex = index + 1
		if seg.StartNs == 0 || seg.EndNs == 0 {
			continue
		}

		seg.DurationMs = (seg.EndNs - seg.StartNs) / int64(time.Millisecond)

		totals := make(map[string]*PlayerStats)
		var order []string
		for _, hit := range damage {
			if hit.TimestampNs < seg.StartNs || hit.TimestampNs > seg.EndNs {
				continue
			}
			if hit.Actor == "" {
				continue
			}
			stats, ok := totals[hit.Actor]
			if !ok {
				stats = &PlayerStats{Name: hit.Actor}
				totals[hit.Actor] = stats
				order = append(order, hit.Actor)
			}
			stats.TotalDamage += hit.Amount
			stats.Hits++
			if hit.IsCritical {
				stats.CriticalHits++
			}
			if hit.IsDirect {
				stats.DirectHits++
			}
		}

		durSeconds := float64(seg.DurationMs) / 1000
		if durSeconds < 1 {
			durSeconds = 1
		}

		segJobs := jobsBySegment[seg.ID]
		players := make([]PlayerStats, 0, len(order))
		for _, name := range order {
			stats := totals[name]
			stats.DPS = math.Round(float64(stats.TotalDamage)/durSeconds*100) / 100
			code := segJobs[name]
			if code == "" {
				code = reg.nameToJob[name]
			}
			stats.JobCode = code
			stats.Role = tables.RoleForJobCode(code)
			players = append(players, *stats)
		}
		sort.SliceStable(players, func(i, j int) bool {
			return players[i].TotalDamage > players[j].TotalDamage
		})
		seg.Players = players
	}
}
