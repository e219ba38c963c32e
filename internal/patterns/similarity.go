package patterns

import (
	"sort"
	"strings"

	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/models"
	"github.com/kenhaesler/ai-portainer-dashboard-sub011/internal/utils"
)

// TokenSet is a de-duplicated set of lowercase alphanumeric tokens.
type TokenSet map[string]struct{}

// Tokenize lowercases text, splits it on runs of non-alphanumeric characters and
// keeps the distinct tokens longer than one character.
func Tokenize(text string) TokenSet {
	tokens := make(TokenSet)
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	for _, field := range fields {
		if len(field) < 2 {
			continue
		}
		tokens[field] = struct{}{}
	}
	return tokens
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

// JaccardSimilarity returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func JaccardSimilarity(a, b TokenSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for token := range small {
		if _, ok := large[token]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// InsightGroup is a cluster of textually similar insights.
type InsightGroup struct {
	Insights []models.Insight `json:"insights"`
	// Similarity is the mean pairwise Jaccard similarity of the members.
	Similarity float64 `json:"similarity"`
}

// FindSimilarInsights clusters insights by single-link Jaccard similarity over
// title and description. Groups preserve input order and singletons are dropped.
func FindSimilarInsights(insights []models.Insight, threshold float64) []InsightGroup {
	if len(insights) < 2 {
		return []InsightGroup{}
	}

	tokens := make([]TokenSet, len(insights))
	for i, insight := range insights {
		tokens[i] = insightTokens(insight)
	}

	grouped := make([]bool, len(insights))
	groups := make([]InsightGroup, 0)

	for seed := range insights {
		if grouped[seed] {
			continue
		}
		grouped[seed] = true
		members := []int{seed}

		for changed := true; changed; {
			changed = false
			for candidate := range insights {
				if grouped[candidate] {
					continue
				}
				if linksToAny(tokens, members, candidate, threshold) {
					grouped[candidate] = true
					members = append(members, candidate)
					changed = true
				}
			}
		}

		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		group := InsightGroup{
			Insights:   make([]models.Insight, 0, len(members)),
			Similarity: utils.Round(meanPairwise(tokens, members), 2),
		}
		for _, idx := range members {
			group.Insights = append(group.Insights, insights[idx])
		}
		groups = append(groups, group)
	}
	return groups
}

// ScoredInsight pairs an insight with its similarity to a reference insight.
type ScoredInsight struct {
	Insight    models.Insight `json:"insight"`
	Similarity float64        `json:"similarity"`
}

// RelatedInsights ranks candidates by similarity to target, highest first,
// keeping those at or above threshold. The target itself is excluded by ID.
// A non-positive limit returns every match.
func RelatedInsights(target models.Insight, candidates []models.Insight, threshold float64, limit int) []ScoredInsight {
	reference := insightTokens(target)
	related := make([]ScoredInsight, 0)
	for _, candidate := range candidates {
		if candidate.ID != "" && candidate.ID == target.ID {
			continue
		}
		score := JaccardSimilarity(reference, insightTokens(candidate))
		if score < threshold || score == 0 {
			continue
		}
		related = append(related, ScoredInsight{Insight: candidate, Similarity: utils.Round(score, 2)})
	}
	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Similarity > related[j].Similarity
	})
	if limit > 0 && len(related) > limit {
		related = related[:limit]
	}
	return related
}

func insightTokens(insight models.Insight) TokenSet {
	return Tokenize(insight.Title + " " + insight.Description)
}

func linksToAny(tokens []TokenSet, members []int, candidate int, threshold float64) bool {
	for _, member := range members {
		if JaccardSimilarity(tokens[member], tokens[candidate]) >= threshold {
			return true
		}
	}
	return false
}

func meanPairwise(tokens []TokenSet, members []int) float64 {
	var (
		total float64
		pairs int
	)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			total += JaccardSimilarity(tokens[members[i]], tokens[members[j]])
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
