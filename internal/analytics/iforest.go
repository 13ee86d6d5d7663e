package analytics

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const eulerGamma = 0.5772156649

// isolationForest - ансамбль случайных деревьев изоляции по одномерному признаку.
// Точки в разреженных/крайних областях изолируются короче и получают
// более отрицательный decision score.
type isolationForest struct {
	trees         []*isolationTree
	subsampleSize int
	avgPathLength float64
	// offset - граница разделения, подобранная по доле contamination
	offset float64
}

type isolationTree struct {
	splitValue float64
	min, max   float64
	left       *isolationTree
	right      *isolationTree
	size       int
	leaf       bool
}

func fitIsolationForest(data []float64, numTrees, subsampleSize int, contamination float64, seed int64) *isolationForest {
	n := len(data)
	if subsampleSize <= 0 || subsampleSize > n {
		subsampleSize = n
	}

	f := &isolationForest{
		trees:         make([]*isolationTree, numTrees),
		subsampleSize: subsampleSize,
		avgPathLength: pathLengthAdjustment(subsampleSize),
	}

	// Фиксированный seed: одинаковые данные дают одинаковую модель
	r := rand.New(rand.NewSource(seed))
	maxHeight := int(math.Ceil(math.Log2(float64(subsampleSize))))
	if maxHeight < 1 {
		maxHeight = 1
	}

	for i := 0; i < numTrees; i++ {
		sample := subsample(data, subsampleSize, r)
		f.trees[i] = buildIsolationTree(sample, 0, maxHeight, r)
	}

	scores := make([]float64, n)
	for i, v := range data {
		scores[i] = f.scoreSamples(v)
	}
	sort.Float64s(scores)
	f.offset = stat.Quantile(contamination, stat.LinInterp, scores, nil)

	return f
}

// decision > 0 - норма, decision < 0 - выброс.
func (f *isolationForest) decision(v float64) float64 {
	return f.scoreSamples(v) - f.offset
}

// scoreSamples возвращает -s(x), где s(x) = 2^(-E(h(x))/c(n)).
func (f *isolationForest) scoreSamples(v float64) float64 {
	if f.avgPathLength == 0 || len(f.trees) == 0 {
		return -0.5
	}

	total := 0.0
	for _, t := range f.trees {
		total += t.pathLength(v, 0)
	}
	avg := total / float64(len(f.trees))
	return -math.Pow(2, -avg/f.avgPathLength)
}

func subsample(data []float64, size int, r *rand.Rand) []float64 {
	idx := r.Perm(len(data))[:size]
	out := make([]float64, size)
	for i, j := range idx {
		out[i] = data[j]
	}
	return out
}

func buildIsolationTree(data []float64, depth, maxHeight int, r *rand.Rand) *isolationTree {
	t := &isolationTree{size: len(data)}
	if len(data) == 0 {
		t.leaf = true
		return t
	}

	t.min, t.max = data[0], data[0]
	for _, v := range data[1:] {
		if v < t.min {
			t.min = v
		}
		if v > t.max {
			t.max = v
		}
	}

	if len(data) <= 1 || depth >= maxHeight || t.min == t.max {
		t.leaf = true
		return t
	}

	t.splitValue = t.min + r.Float64()*(t.max-t.min)

	var left, right []float64
	for _, v := range data {
		if v < t.splitValue {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		t.leaf = true
		return t
	}

	t.left = buildIsolationTree(left, depth+1, maxHeight, r)
	t.right = buildIsolationTree(right, depth+1, maxHeight, r)
	return t
}

func (t *isolationTree) pathLength(v float64, depth int) float64 {
	// Значение вне диапазона узла изолируется следующим же разбиением
	if v < t.min || v > t.max {
		return float64(depth) + 1
	}
	if t.leaf {
		return float64(depth) + pathLengthAdjustment(t.size)
	}
	if v < t.splitValue {
		return t.left.pathLength(v, depth+1)
	}
	return t.right.pathLength(v, depth+1)
}

// pathLengthAdjustment - c(n), средняя длина неуспешного поиска в BST.
func pathLengthAdjustment(n int) float64 {
	if n > 2 {
		return 2.0*(math.Log(float64(n-1))+eulerGamma) - 2.0*float64(n-1)/float64(n)
	}
	if n == 2 {
		return 1.0
	}
	return 0.0
}
