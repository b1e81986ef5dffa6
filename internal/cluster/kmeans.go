package cluster

import (
	"math"
	"math/rand"
)

// maxKMeansIterations bounds the Lloyd iteration count. Statutory corpora
// converge in well under twenty rounds; the bound guards degenerate inputs.
const maxKMeansIterations = 100

// kmeans partitions vectors into k clusters using cosine distance, with
// k-means++ seeding from r. It returns the final centroids and, for each
// input vector, the index of its assigned cluster.
//
// Determinism follows from r: the same seed, vectors, and k always produce
// the same partition. Empty clusters are reseeded with the point farthest
// from its current centroid.
func kmeans(vectors [][]float32, k int, r *rand.Rand) (centroids [][]float32, assignment []int) {
	n := len(vectors)
	if n == 0 || k <= 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	centroids = seedPlusPlus(vectors, k, r)
	assignment = make([]int, n)

	for iter := 0; iter < maxKMeansIterations; iter++ {
		changed := false

		// Assignment step.
		for i, v := range vectors {
			best, bestDist := 0, math.Inf(1)
			for c, cent := range centroids {
				d := cosineDistance(v, cent)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best || iter == 0 {
				if assignment[i] != best {
					changed = true
				}
				assignment[i] = best
			}
		}

		// Update step.
		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(vectors[0]))
		}
		for i, v := range vectors {
			c := assignment[i]
			counts[c]++
			for d, x := range v {
				sums[c][d] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Reseed an empty cluster with the point farthest from its
				// centroid.
				centroids[c] = vectors[farthestPoint(vectors, centroids, assignment)]
				changed = true
				continue
			}
			cent := make([]float32, len(sums[c]))
			for d := range sums[c] {
				cent[d] = float32(sums[c][d] / float64(counts[c]))
			}
			centroids[c] = cent
		}

		if !changed && iter > 0 {
			break
		}
	}
	return centroids, assignment
}

// seedPlusPlus picks k initial centroids with the k-means++ strategy: the
// first uniformly, each subsequent one with probability proportional to its
// squared distance from the nearest centroid chosen so far.
func seedPlusPlus(vectors [][]float32, k int, r *rand.Rand) [][]float32 {
	n := len(vectors)
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVec(vectors[r.Intn(n)]))

	dists := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			nearest := math.Inf(1)
			for _, c := range centroids {
				if d := cosineDistance(v, c); d < nearest {
					nearest = d
				}
			}
			dists[i] = nearest * nearest
			total += dists[i]
		}
		if total == 0 {
			// All points coincide with a centroid; pick uniformly.
			centroids = append(centroids, cloneVec(vectors[r.Intn(n)]))
			continue
		}
		target := r.Float64() * total
		var acc float64
		pick := n - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, cloneVec(vectors[pick]))
	}
	return centroids
}

// silhouetteSweep evaluates k over [kMin, kMax] with the centroid-based
// simplified silhouette (one pass per k: each point's distance to its own
// centroid versus the nearest foreign centroid) and returns the k with the
// highest mean score.
func silhouetteSweep(vectors [][]float32, kMin, kMax int, r *rand.Rand) int {
	if kMax > len(vectors) {
		kMax = len(vectors)
	}
	if kMin < 2 {
		kMin = 2
	}
	bestK, bestScore := kMin, math.Inf(-1)
	for k := kMin; k <= kMax; k++ {
		centroids, assignment := kmeans(vectors, k, r)
		score := simplifiedSilhouette(vectors, centroids, assignment)
		if score > bestScore {
			bestK, bestScore = k, score
		}
	}
	return bestK
}

// simplifiedSilhouette scores a partition: for each point, a is the distance
// to its own centroid and b the distance to the nearest other centroid; the
// point's score is (b-a)/max(a,b).
func simplifiedSilhouette(vectors [][]float32, centroids [][]float32, assignment []int) float64 {
	if len(centroids) < 2 {
		return math.Inf(-1)
	}
	var total float64
	for i, v := range vectors {
		own := cosineDistance(v, centroids[assignment[i]])
		foreign := math.Inf(1)
		for c, cent := range centroids {
			if c == assignment[i] {
				continue
			}
			if d := cosineDistance(v, cent); d < foreign {
				foreign = d
			}
		}
		denom := math.Max(own, foreign)
		if denom > 0 {
			total += (foreign - own) / denom
		}
	}
	return total / float64(len(vectors))
}

// farthestPoint returns the index of the vector with the greatest distance to
// its assigned centroid.
func farthestPoint(vectors [][]float32, centroids [][]float32, assignment []int) int {
	best, bestDist := 0, -1.0
	for i, v := range vectors {
		if d := cosineDistance(v, centroids[assignment[i]]); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// cosineDistance is 1 minus cosine similarity, clamped so zero-norm vectors
// compare as maximally distant instead of propagating NaN into the sweep.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// meanVec returns the component-wise mean of the given vectors.
func meanVec(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	sum := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for d, x := range v {
			sum[d] += float64(x)
		}
	}
	mean := make([]float32, len(sum))
	for d := range sum {
		mean[d] = float32(sum[d] / float64(len(vectors)))
	}
	return mean
}

// cloneVec copies a vector so centroid mutation never aliases member data.
func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
