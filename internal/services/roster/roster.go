// Package roster reconciles persisted combat segments against the
// registered member roster, marking who attended each run.
package roster

// Member is one registered roster entry, unique per (GuildID, Name).
type Member struct {
	GuildID string
	Name    string
	JobCode string
	Emoji   string
	OwnerID string
}
