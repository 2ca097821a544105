// Package emode implements the efficiency-mode rules: whether a
// preferential cross-collateral risk regime is active for an account, and
// how every candidate bank action would change it.
//
// All functions are pure; impact computation is a what-if simulation over
// the account's active liability and collateral sets, safe to run before
// any transaction is built.
package emode

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/openlend/risk-engine/internal/model"
)

// ImpactStatus classifies the efficiency-mode transition a candidate
// action would cause.
type ImpactStatus uint8

const (
	// StatusInactive: the action leaves efficiency mode off.
	StatusInactive ImpactStatus = iota
	// StatusActivate: the action turns efficiency mode on.
	StatusActivate
	// StatusExtend: the action keeps the current regime, same terms.
	StatusExtend
	// StatusIncrease: the action moves the account to a better weight.
	StatusIncrease
	// StatusReduce: the action moves the account to a worse weight.
	StatusReduce
	// StatusRemove: the action turns efficiency mode off.
	StatusRemove
)

func (s ImpactStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActivate:
		return "activate"
	case StatusExtend:
		return "extend"
	case StatusIncrease:
		return "increase"
	case StatusReduce:
		return "reduce"
	case StatusRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ActionImpact is the simulated outcome of one action on one bank.
type ActionImpact struct {
	Status     ImpactStatus     `json:"status"`
	ActivePair *model.EmodePair `json:"active_pair,omitempty"`
}

// Impact bundles the four simulated actions for one candidate bank.
type Impact struct {
	Borrow   ActionImpact `json:"borrow"`
	Repay    ActionImpact `json:"repay"`
	Supply   ActionImpact `json:"supply"`
	Withdraw ActionImpact `json:"withdraw"`
}

// ComputeActiveEmodePairs returns the pairs in effect for an account, or
// nil when efficiency mode is off.
//
// Unconfigured (tag-zero) pairs are dropped. A single active liability with
// no configured pair disqualifies the whole account, not just that bank.
// Otherwise one collateral-tag group must cover every active liability; the
// qualifying group with the best minimum asset weight wins.
func ComputeActiveEmodePairs(pairs []model.EmodePair, activeLiabilities, activeCollateral []string) []model.EmodePair {
	if len(activeLiabilities) == 0 {
		return nil
	}

	configured := make([]model.EmodePair, 0, len(pairs))
	for _, p := range pairs {
		if p.CollateralTag != 0 && p.LiabilityTag != 0 {
			configured = append(configured, p)
		}
	}

	byLiability := make(map[string][]model.EmodePair)
	for _, p := range configured {
		byLiability[p.LiabilityBankID] = append(byLiability[p.LiabilityBankID], p)
	}
	for _, liab := range activeLiabilities {
		if len(byLiability[liab]) == 0 {
			return nil
		}
	}

	collateral := make(map[string]bool, len(activeCollateral))
	for _, id := range activeCollateral {
		collateral[id] = true
	}

	// Candidates: pairs whose liability is active and whose collateral list
	// intersects the active collateral.
	groups := make(map[model.EmodeTag][]model.EmodePair)
	active := make(map[string]bool, len(activeLiabilities))
	for _, id := range activeLiabilities {
		active[id] = true
	}
	for _, p := range configured {
		if !active[p.LiabilityBankID] {
			continue
		}
		for _, c := range p.CollateralBankIDs {
			if collateral[c] {
				groups[p.CollateralTag] = append(groups[p.CollateralTag], p)
				break
			}
		}
	}

	tags := make([]model.EmodeTag, 0, len(groups))
	for tag := range groups {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	var best []model.EmodePair
	var bestWeight decimal.Decimal
	for _, tag := range tags {
		group := groups[tag]
		covered := make(map[string]bool, len(group))
		for _, p := range group {
			covered[p.LiabilityBankID] = true
		}
		qualifies := true
		for _, liab := range activeLiabilities {
			if !covered[liab] {
				qualifies = false
				break
			}
		}
		if !qualifies {
			continue
		}
		w := minAssetWeightInit(group)
		if best == nil || w.GreaterThan(bestWeight) {
			best = group
			bestWeight = w
		}
	}
	return best
}

// ComputeEmodeImpacts simulates {borrow, repay, supply, withdraw} for every
// candidate bank by editing the relevant active set, recomputing the active
// pairs and classifying the before/after transition.
func ComputeEmodeImpacts(pairs []model.EmodePair, activeLiabilities, activeCollateral, candidateBanks []string) map[string]Impact {
	current := ComputeActiveEmodePairs(pairs, activeLiabilities, activeCollateral)

	configuredLiabilities := make(map[string]model.EmodeTag)
	for _, p := range pairs {
		if p.CollateralTag != 0 && p.LiabilityTag != 0 {
			configuredLiabilities[p.LiabilityBankID] = p.LiabilityTag
		}
	}

	activeLiabilityTags := make(map[model.EmodeTag]bool)
	for _, id := range activeLiabilities {
		if tag, ok := configuredLiabilities[id]; ok {
			activeLiabilityTags[tag] = true
		}
	}

	impacts := make(map[string]Impact, len(candidateBanks))
	for _, bank := range candidateBanks {
		impacts[bank] = Impact{
			Borrow:   simulateBorrow(pairs, activeLiabilities, activeCollateral, bank, current, configuredLiabilities, activeLiabilityTags),
			Repay:    simulateRepay(pairs, activeLiabilities, activeCollateral, bank, current),
			Supply:   simulateCollateral(pairs, activeLiabilities, activeCollateral, bank, current, true),
			Withdraw: simulateCollateral(pairs, activeLiabilities, activeCollateral, bank, current, false),
		}
	}
	return impacts
}

func simulateBorrow(
	pairs []model.EmodePair,
	activeLiabilities, activeCollateral []string,
	bank string,
	current []model.EmodePair,
	configuredLiabilities map[string]model.EmodeTag,
	activeLiabilityTags map[model.EmodeTag]bool,
) ActionImpact {
	tag, configured := configuredLiabilities[bank]
	if !configured {
		// Borrowing an unconfigured bank kills the regime outright.
		if len(current) > 0 {
			return ActionImpact{Status: StatusRemove}
		}
		return ActionImpact{Status: StatusInactive}
	}

	after := ComputeActiveEmodePairs(pairs, union(activeLiabilities, bank), activeCollateral)

	// Borrowing a tag already represented keeps the current terms,
	// whatever the weight diff says.
	if len(current) > 0 && activeLiabilityTags[tag] && len(after) > 0 {
		return ActionImpact{Status: StatusExtend, ActivePair: pairFor(after, bank)}
	}

	return ActionImpact{Status: classify(current, after), ActivePair: pairFor(after, bank)}
}

func simulateRepay(pairs []model.EmodePair, activeLiabilities, activeCollateral []string, bank string, current []model.EmodePair) ActionImpact {
	if !contains(activeLiabilities, bank) {
		return ActionImpact{Status: StatusInactive}
	}
	after := ComputeActiveEmodePairs(pairs, remove(activeLiabilities, bank), activeCollateral)
	return ActionImpact{Status: classify(current, after), ActivePair: firstPair(after)}
}

func simulateCollateral(pairs []model.EmodePair, activeLiabilities, activeCollateral []string, bank string, current []model.EmodePair, add bool) ActionImpact {
	var next []string
	if add {
		if contains(activeCollateral, bank) {
			return ActionImpact{Status: StatusInactive}
		}
		next = union(activeCollateral, bank)
	} else {
		if !contains(activeCollateral, bank) {
			return ActionImpact{Status: StatusInactive}
		}
		next = remove(activeCollateral, bank)
	}
	after := ComputeActiveEmodePairs(pairs, activeLiabilities, next)
	return ActionImpact{Status: classify(current, after), ActivePair: firstPair(after)}
}

// classify diffs before/after pair sets using the minimum initial asset
// weight as the comparison key.
func classify(before, after []model.EmodePair) ImpactStatus {
	switch {
	case len(before) == 0 && len(after) == 0:
		return StatusInactive
	case len(before) == 0:
		return StatusActivate
	case len(after) == 0:
		return StatusRemove
	}
	bw := minAssetWeightInit(before)
	aw := minAssetWeightInit(after)
	switch {
	case aw.GreaterThan(bw):
		return StatusIncrease
	case aw.LessThan(bw):
		return StatusReduce
	default:
		return StatusExtend
	}
}

func minAssetWeightInit(pairs []model.EmodePair) decimal.Decimal {
	min := pairs[0].AssetWeightInit
	for _, p := range pairs[1:] {
		if p.AssetWeightInit.LessThan(min) {
			min = p.AssetWeightInit
		}
	}
	return min
}

func pairFor(pairs []model.EmodePair, liabilityBank string) *model.EmodePair {
	for i := range pairs {
		if pairs[i].LiabilityBankID == liabilityBank {
			return &pairs[i]
		}
	}
	return firstPair(pairs)
}

func firstPair(pairs []model.EmodePair) *model.EmodePair {
	if len(pairs) == 0 {
		return nil
	}
	return &pairs[0]
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func union(list []string, v string) []string {
	if contains(list, v) {
		return list
	}
	out := make([]string, 0, len(list)+1)
	out = append(out, list...)
	return append(out, v)
}

func remove(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
