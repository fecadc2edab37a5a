package mltune

import (
	"math"
	"math/rand"
	"sort"
)

// treeNode is a binary CART regression node. Leaves carry the mean target
// of the rows that reached them.
type treeNode struct {
	feature   int
	threshold float64
	left      *treeNode
	right     *treeNode
	value     float64
	leaf      bool
}

func (n *treeNode) predict(row []float64) float64 {
	for !n.leaf {
		if row[n.feature] <= n.threshold {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

type treeParams struct {
	maxDepth    int
	minLeaf     int
	featureFrac float64 // fraction of features considered per split
}

// buildTree grows a regression tree on the rows indexed by idx, minimizing
// squared error. importance accumulates the weighted variance reduction of
// each chosen split feature.
func buildTree(x [][]float64, y []float64, idx []int, depth int, p treeParams, rng *rand.Rand, importance []float64) *treeNode {
	if len(idx) <= p.minLeaf || depth >= p.maxDepth {
		return &treeNode{leaf: true, value: meanAt(y, idx)}
	}

	parentVar := varianceAt(y, idx)
	if parentVar == 0 {
		return &treeNode{leaf: true, value: meanAt(y, idx)}
	}

	nFeatures := len(x[0])
	nTry := int(math.Ceil(p.featureFrac * float64(nFeatures)))
	if nTry < 1 {
		nTry = 1
	}

	bestFeature, bestThreshold := -1, 0.0
	bestScore := math.Inf(1)
	for _, f := range rng.Perm(nFeatures)[:nTry] {
		threshold, score, ok := bestSplit(x, y, idx, f)
		if ok && score < bestScore {
			bestFeature, bestThreshold, bestScore = f, threshold, score
		}
	}
	if bestFeature < 0 {
		return &treeNode{leaf: true, value: meanAt(y, idx)}
	}

	var leftIdx, rightIdx []int
	for _, i := range idx {
		if x[i][bestFeature] <= bestThreshold {
			leftIdx = append(leftIdx, i)
		} else {
			rightIdx = append(rightIdx, i)
		}
	}
	if len(leftIdx) == 0 || len(rightIdx) == 0 {
		return &treeNode{leaf: true, value: meanAt(y, idx)}
	}

	gain := parentVar - bestScore/float64(len(idx))
	if gain > 0 {
		importance[bestFeature] += gain * float64(len(idx))
	}

	return &treeNode{
		feature:   bestFeature,
		threshold: bestThreshold,
		left:      buildTree(x, y, leftIdx, depth+1, p, rng, importance),
		right:     buildTree(x, y, rightIdx, depth+1, p, rng, importance),
	}
}

// bestSplit scans candidate thresholds for one feature and returns the one
// with the lowest weighted child SSE
func bestSplit(x [][]float64, y []float64, idx []int, feature int) (float64, float64, bool) {
	values := make([]float64, len(idx))
	for i, row := range idx {
		values[i] = x[row][feature]
	}
	sort.Float64s(values)

	bestScore := math.Inf(1)
	bestThreshold := 0.0
	found := false
	for i := 1; i < len(values); i++ {
		if values[i] == values[i-1] {
			continue
		}
		threshold := (values[i] + values[i-1]) / 2

		var leftSum, leftSq, rightSum, rightSq float64
		var leftN, rightN int
		for _, row := range idx {
			v := y[row]
			if x[row][feature] <= threshold {
				leftSum += v
				leftSq += v * v
				leftN++
			} else {
				rightSum += v
				rightSq += v * v
				rightN++
			}
		}
		if leftN == 0 || rightN == 0 {
			continue
		}
		// SSE = sum(y^2) - n*mean^2 per side
		score := leftSq - leftSum*leftSum/float64(leftN) +
			rightSq - rightSum*rightSum/float64(rightN)
		if score < bestScore {
			bestScore, bestThreshold, found = score, threshold, true
		}
	}
	return bestThreshold, bestScore, found
}

// ==================== Random forest ====================

type forest struct {
	trees      []*treeNode
	importance []float64
}

func fitForest(x [][]float64, y []float64, nTrees int, p treeParams, rng *rand.Rand) *forest {
	f := &forest{importance: make([]float64, len(x[0]))}
	for t := 0; t < nTrees; t++ {
		idx := make([]int, len(x))
		for i := range idx {
			idx[i] = rng.Intn(len(x))
		}
		f.trees = append(f.trees, buildTree(x, y, idx, 0, p, rng, f.importance))
	}
	normalize(f.importance)
	return f
}

// predict returns the tree-mean and the spread across trees. A wide spread
// means the ensemble disagrees about this region of parameter space.
func (f *forest) predict(row []float64) (mean, std float64) {
	var sum, sq float64
	for _, tree := range f.trees {
		v := tree.predict(row)
		sum += v
		sq += v * v
	}
	n := float64(len(f.trees))
	mean = sum / n
	variance := sq/n - mean*mean
	if variance > 0 {
		std = math.Sqrt(variance)
	}
	return mean, std
}

// ==================== Gradient boosting ====================

type boostedModel struct {
	base       float64
	trees      []*treeNode
	learnRate  float64
	importance []float64
}

func fitBoosted(x [][]float64, y []float64, nTrees int, learnRate float64, p treeParams, rng *rand.Rand) *boostedModel {
	m := &boostedModel{
		base:       mean(y),
		learnRate:  learnRate,
		importance: make([]float64, len(x[0])),
	}

	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	residuals := make([]float64, len(y))
	for i, v := range y {
		residuals[i] = v - m.base
	}

	for t := 0; t < nTrees; t++ {
		tree := buildTree(x, residuals, idx, 0, p, rng, m.importance)
		m.trees = append(m.trees, tree)
		for i := range residuals {
			residuals[i] -= learnRate * tree.predict(x[i])
		}
	}
	normalize(m.importance)
	return m
}

func (m *boostedModel) predict(row []float64) float64 {
	v := m.base
	for _, tree := range m.trees {
		v += m.learnRate * tree.predict(row)
	}
	return v
}

// ==================== Helpers ====================

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return sum / float64(len(idx))
}

func varianceAt(y []float64, idx []int) float64 {
	if len(idx) == 0 {
		return 0
	}
	m := meanAt(y, idx)
	var sq float64
	for _, i := range idx {
		d := y[i] - m
		sq += d * d
	}
	return sq / float64(len(idx))
}

func normalize(values []float64) {
	var total float64
	for _, v := range values {
		total += v
	}
	if total == 0 {
		return
	}
	for i := range values {
		values[i] /= total
	}
}

// rSquared is the coefficient of determination of predictions vs actuals
func rSquared(actual, predicted []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	m := mean(actual)
	var ssRes, ssTot float64
	for i, a := range actual {
		d := a - predicted[i]
		ssRes += d * d
		t := a - m
		ssTot += t * t
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
