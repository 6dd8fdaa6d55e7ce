package dsp

// Fast Fourier Transform
//
// Radix-2 decimation-in-time Cooley-Tukey transform used by the tremor
// spectral analyzer. The input length must be a power of two; callers truncate
// their analysis window with LargestPowerOfTwo before transforming.
//
//  1. Split the sequence into even- and odd-indexed halves.
//  2. Transform each half recursively.
//  3. Combine the halves with the twiddle factor W_N^k = e^(-2πik/N).
//
// The one-sided power spectrum derived from the result is |X[k]|² / N for
// k in [0, N/2].

import (
	"math"
	"math/cmplx"
)

// FFT transforms real samples into their complex spectrum.
func FFT(input []float64) []complex128 {
	complexArray := make([]complex128, len(input))
	for i, v := range input {
		complexArray[i] = complex(v, 0)
	}
	return recursiveFFT(complexArray)
}

func recursiveFFT(complexArray []complex128) []complex128 {
	n := len(complexArray)
	if n <= 1 {
		return complexArray
	}

	even := make([]complex128, n/2)
	odd := make([]complex128, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = complexArray[2*i]
		odd[i] = complexArray[2*i+1]
	}

	even = recursiveFFT(even)
	odd = recursiveFFT(odd)

	fftResult := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		angle := -2 * math.Pi * float64(k) / float64(n)
		t := complex(math.Cos(angle), math.Sin(angle))
		fftResult[k] = even[k] + t*odd[k]
		fftResult[k+n/2] = even[k] - t*odd[k]
	}

	return fftResult
}

// PowerSpectrum returns the one-sided power spectrum (bins 0..N/2) of a real
// signal, normalised by N.
func PowerSpectrum(samples []float64) []float64 {
	n := len(samples)
	if n == 0 {
		return nil
	}
	spectrum := FFT(samples)
	power := make([]float64, n/2+1)
	for k := range power {
		mag := cmplx.Abs(spectrum[k])
		power[k] = mag * mag / float64(n)
	}
	return power
}

// LargestPowerOfTwo returns the largest power of two that is <= n, or 0 when n < 1.
func LargestPowerOfTwo(n int) int {
	if n < 1 {
		return 0
	}
	power := 1
	for power*2 <= n {
		power <<= 1
	}
	return power
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
