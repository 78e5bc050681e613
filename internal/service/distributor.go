package service

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/stemsi/drivertest-bot/internal/model"
)

// DistributeQuestions picks target questions from pool, keeping each
// category's share proportional to its share of the pool.
//
// Quotas start at the floor of the ideal share; the leftover slots go to the
// largest fractional remainders (ties keep first-seen order). A category whose
// quota outgrows its size is capped and the excess split evenly across
// categories with room left. The cap is applied in a single pass, so two
// categories exhausted by the same redistribution can leave the result short;
// callers compare the length against target.
//
// When the pool cannot cover target, the whole pool comes back shuffled.
func DistributeQuestions(pool []model.Question, target int, rng *rand.Rand) []model.Question {
	if target <= 0 || len(pool) == 0 {
		return nil
	}
	if len(pool) <= target {
		out := append([]model.Question(nil), pool...)
		rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}

	var order []string
	byCategory := make(map[string][]model.Question)
	for _, q := range pool {
		if _, seen := byCategory[q.Category]; !seen {
			order = append(order, q.Category)
		}
		byCategory[q.Category] = append(byCategory[q.Category], q)
	}

	total := float64(len(pool))
	quotas := make(map[string]int, len(order))
	fractions := make(map[string]float64, len(order))
	assigned := 0
	for _, cat := range order {
		ideal := float64(target) * float64(len(byCategory[cat])) / total
		base := int(math.Floor(ideal))
		quotas[cat] = base
		fractions[cat] = ideal - float64(base)
		assigned += base
	}

	byFraction := append([]string(nil), order...)
	sort.SliceStable(byFraction, func(i, j int) bool {
		return fractions[byFraction[i]] > fractions[byFraction[j]]
	})
	for i := 0; i < target-assigned; i++ {
		quotas[byFraction[i%len(byFraction)]]++
	}

	for _, cat := range order {
		size := len(byCategory[cat])
		if quotas[cat] <= size {
			continue
		}
		excess := quotas[cat] - size
		quotas[cat] = size

		var spare []string
		for _, other := range order {
			if other != cat && quotas[other] < len(byCategory[other]) {
				spare = append(spare, other)
			}
		}
		if len(spare) == 0 {
			continue
		}
		per, rem := excess/len(spare), excess%len(spare)
		for i, other := range spare {
			add := per
			if i < rem {
				add++
			}
			quotas[other] = min(quotas[other]+add, len(byCategory[other]))
		}
	}

	selected := make([]model.Question, 0, target)
	for _, cat := range order {
		selected = append(selected, sample(byCategory[cat], quotas[cat], rng)...)
	}
	rng.Shuffle(len(selected), func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })

	if len(selected) > target {
		selected = selected[:target]
	}
	return selected
}

// sample draws k items uniformly without replacement.
func sample(items []model.Question, k int, rng *rand.Rand) []model.Question {
	if k <= 0 {
		return nil
	}
	idx := rng.Perm(len(items))[:k]
	out := make([]model.Question, k)
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}
