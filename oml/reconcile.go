package oml

import (
	"reflect"

	"golang.org/x/exp/slices"
)

// Reconcile re-attaches ids from `canonical` onto `parsed`, an identity-free tree read from text.
// Neither input is modified. The root keeps the canonical root id.
// Children are paired level by level:
//  1. same index and structurally equal
//  2. structurally equal elsewhere, nearest index first, ties to the lower index
//  3. edited in place: an unclaimed old child in the same gap between pairs from 1 and 2,
//     most shared attribute values first, then closest relative position
//
// Paired children recurse. Unpaired new children are fresh (pending) subtrees.
// Unpaired old children are removed.
func Reconcile(canonical *Node, parsed *Node) *Node {
	if parsed == nil {
		return nil
	}
	if canonical == nil {
		return StripIds(parsed)
	}
	return reconcileNode(canonical, parsed)
}

func reconcileNode(old *Node, parsed *Node) *Node {
	reconciled := &Node{
		Id:         old.Id,
		Attributes: normalizeAttributes(parsed.Attributes),
	}
	if parsed.Children == nil {
		return reconciled
	}

	pairs := PairChildren(old.Children, parsed.Children)
	reconciled.Children = make([]*Node, len(parsed.Children))
	for i, child := range parsed.Children {
		if j := pairs[i]; 0 <= j {
			reconciled.Children[i] = reconcileNode(old.Children[j], child)
		} else {
			reconciled.Children[i] = StripIds(child)
		}
	}
	return reconciled
}

// PairChildren returns, for each new child, the index of the old child it takes identity from,
// or -1 for a fresh child. Each old child is used at most once.
func PairChildren(oldChildren []*Node, newChildren []*Node) []int {
	pairs := make([]int, len(newChildren))
	claimed := make([]bool, len(oldChildren))
	for i := range pairs {
		pairs[i] = -1
	}
	claim := func(i int, j int) {
		pairs[i] = j
		claimed[j] = true
	}

	// 1. unchanged in place
	for i, child := range newChildren {
		if i < len(oldChildren) && EqualIgnoringIds(oldChildren[i], child) {
			claim(i, i)
		}
	}

	// 2. moved
	for i, child := range newChildren {
		if 0 <= pairs[i] {
			continue
		}
		best := -1
		bestDistance := 0
		for j, oldChild := range oldChildren {
			if claimed[j] {
				continue
			}
			distance := abs(i - j)
			if 0 <= best && bestDistance <= distance {
				// strictly nearer only, so ties stay with the lower index
				continue
			}
			if EqualIgnoringIds(oldChild, child) {
				best = j
				bestDistance = distance
			}
		}
		if 0 <= best {
			claim(i, best)
		}
	}

	// 3. edited in place, within the gap left between the pairs above
	pairEdited(oldChildren, newChildren, pairs, claimed)

	return pairs
}

type editedCandidate struct {
	newIndex int
	oldIndex int
	score    int
	distance int
}

func pairEdited(oldChildren []*Node, newChildren []*Node, pairs []int, claimed []bool) {
	// anchors to the left and right of each new child, as (new index, old index)
	n := len(newChildren)
	prevNew := make([]int, n)
	prevOld := make([]int, n)
	nextOld := make([]int, n)
	lastNew, lastOld := -1, -1
	for i := 0; i < n; i += 1 {
		prevNew[i], prevOld[i] = lastNew, lastOld
		if 0 <= pairs[i] {
			lastNew, lastOld = i, pairs[i]
		}
	}
	lastOld = len(oldChildren)
	for i := n - 1; 0 <= i; i -= 1 {
		nextOld[i] = lastOld
		if 0 <= pairs[i] {
			lastOld = pairs[i]
		}
	}

	candidates := []editedCandidate{}
	for i, child := range newChildren {
		if 0 <= pairs[i] {
			continue
		}
		// anchors cross when children were moved; then any unclaimed old child is allowed
		crossed := nextOld[i] <= prevOld[i]
		for j, oldChild := range oldChildren {
			if claimed[j] {
				continue
			}
			if !crossed && (j <= prevOld[i] || nextOld[i] <= j) {
				continue
			}
			candidates = append(candidates, editedCandidate{
				newIndex: i,
				oldIndex: j,
				score:    similarity(oldChild, child),
				distance: abs((i - prevNew[i]) - (j - prevOld[i])),
			})
		}
	}
	slices.SortStableFunc(candidates, func(a editedCandidate, b editedCandidate) int {
		if a.score != b.score {
			return b.score - a.score
		}
		if a.distance != b.distance {
			return a.distance - b.distance
		}
		if a.newIndex != b.newIndex {
			return a.newIndex - b.newIndex
		}
		return a.oldIndex - b.oldIndex
	})
	for _, candidate := range candidates {
		if 0 <= pairs[candidate.newIndex] || claimed[candidate.oldIndex] {
			continue
		}
		pairs[candidate.newIndex] = candidate.oldIndex
		claimed[candidate.oldIndex] = true
	}
}

// number of attribute values the nodes share, plus one when both have a group
func similarity(a *Node, b *Node) int {
	score := 0
	for key, av := range a.Attributes {
		if bv, ok := b.Attributes[key]; ok && reflect.DeepEqual(normalizeValue(av), normalizeValue(bv)) {
			score += 1
		}
	}
	if a.HasGroup() && b.HasGroup() {
		score += 1
	}
	return score
}

func abs(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
