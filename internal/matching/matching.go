// Package matching ranks multipliers against an unassigned contact by location proximity
// and language overlap.
//
// Scores are lower-is-better: a user starts at NoLocationScore, a location match replaces
// that with the number of admin levels between the contact's grid and the user's grid,
// and any shared language subtracts LanguageBonus.
package matching

import (
	"slices"
)

const (
	// NoLocationScore is the score of a user with no location match.
	NoLocationScore = 100
	// LanguageBonus is subtracted when the user shares a language with the contact.
	LanguageBonus = 50
	// MultiplierRole is the role a user needs to be a candidate.
	MultiplierRole = "multiplier"
	// WorldGridID is the root of the location grid; it only matches itself.
	WorldGridID int64 = 1
)

// Grid is a location grid node with its ancestor chain. Admin[i] is the grid id of the
// ancestor at admin level i, for i in 0..Level.
type Grid struct {
	ID      int64
	Level   int
	AltName string
	Admin   []int64
}

// Candidate is a user that may be assigned the contact.
type Candidate struct {
	ID               int64
	DisplayName      string
	Roles            []string
	UserStatus       string
	WorkloadStatus   string
	LocationLabels   []string
	LocationGridIDs  []int64
	Languages        []string
	ActiveContacts   int
	AssignedContacts int
	PendingContacts  int
}

// IsMultiplier reports whether the candidate holds the multiplier role.
func (c Candidate) IsMultiplier() bool {
	return slices.Contains(c.Roles, MultiplierRole)
}

// Proximity is a user's best location match.
type Proximity struct {
	Level     int
	MatchName string
}

// MatchProximity computes, for every user whose location lies on the ancestor chain of one
// of the contact grids, the smallest level distance and the name of the matched ancestor.
// names maps chain grid ids to display names; a missing entry yields an empty name.
func MatchProximity(contactGrids []Grid, users []Candidate, names map[int64]string) map[int64]Proximity {
	out := map[int64]Proximity{}
	for _, grid := range contactGrids {
		chain := ancestorLevels(grid)
		for _, user := range users {
			for _, userGrid := range user.LocationGridIDs {
				adminLevel, ok := chain[userGrid]
				if !ok {
					continue
				}
				level := grid.Level - adminLevel
				if grid.ID == WorldGridID {
					level = 0
				}
				if cur, seen := out[user.ID]; seen && cur.Level <= level {
					continue
				}
				out[user.ID] = Proximity{Level: level, MatchName: names[userGrid]}
			}
		}
	}
	return out
}

// ChainIDs lists the grid ids on the chain of g, the world node only matching itself.
func ChainIDs(g Grid) []int64 {
	chain := ancestorLevels(g)
	ids := make([]int64, 0, len(chain))
	for id := range chain {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func ancestorLevels(g Grid) map[int64]int {
	if g.ID == WorldGridID {
		return map[int64]int{WorldGridID: 0}
	}
	levels := map[int64]int{}
	for i := 0; i <= g.Level && i < len(g.Admin); i++ {
		if g.Admin[i] == 0 {
			continue
		}
		levels[g.Admin[i]] = i
	}
	return levels
}

// Match is a candidate annotated with its score.
type Match struct {
	Candidate
	LanguageMatch     bool
	LocationMatch     bool
	LocationLevel     *int
	BestLocationMatch string
	Score             int
}

// Score computes the match score of one candidate.
func Score(prox *Proximity, languageMatch bool) int {
	score := NoLocationScore
	if prox != nil {
		score = prox.Level
	}
	if languageMatch {
		score -= LanguageBonus
	}
	return score
}

// SharesLanguage reports whether the two language lists overlap.
func SharesLanguage(contact, user []string) bool {
	if len(contact) == 0 || len(user) == 0 {
		return false
	}
	for _, lang := range contact {
		if slices.Contains(user, lang) {
			return true
		}
	}
	return false
}

// Rank scores multipliers and sorts them by score, then by active contacts. Non-multipliers
// are dropped; equal keys keep their input order.
func Rank(candidates []Candidate, proximity map[int64]Proximity, contactLanguages []string) []Match {
	out := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if !c.IsMultiplier() {
			continue
		}
		m := Match{Candidate: c, LanguageMatch: SharesLanguage(contactLanguages, c.Languages)}
		var prox *Proximity
		if p, ok := proximity[c.ID]; ok {
			prox = &p
			level := p.Level
			m.LocationMatch = true
			m.LocationLevel = &level
			m.BestLocationMatch = p.MatchName
		}
		m.Score = Score(prox, m.LanguageMatch)
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		if a.Score != b.Score {
			return a.Score - b.Score
		}
		return a.ActiveContacts - b.ActiveContacts
	})
	return out
}
