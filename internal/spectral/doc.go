// Package spectral scores how closely a captured frame resembles white noise.
// It computes the magnitude spectrum of a fixed-length real frame, derives a
// flatness similarity in [0, 1] and reports the dominant frequency bins.
package spectral
