package analyzer

import "math"

// fft computes an in-place iterative radix-2 transform. len(re) must be a
// power of two; im is scratch of the same length.
func fft(re, im []float64) {
	n := len(re)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size >> 1
		step := -2 * math.Pi / float64(size)
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				angle := step * float64(k)
				wr, wi := math.Cos(angle), math.Sin(angle)

				i, j := start+k, start+k+half
				tr := re[j]*wr - im[j]*wi
				ti := re[j]*wi + im[j]*wr

				re[j] = re[i] - tr
				im[j] = im[i] - ti
				re[i] += tr
				im[i] += ti
			}
		}
	}
}

// magnitudes fills out with the magnitude of the first len(out) bins after
// applying a Hann window to the samples and transforming.
func magnitudes(samples []int16, re, im, out []float64) {
	n := len(re)
	for i := 0; i < n; i++ {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
		re[i] = float64(samples[i]) * w
		im[i] = 0
	}

	fft(re, im)

	for i := range out {
		out[i] = math.Hypot(re[i], im[i])
	}
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
