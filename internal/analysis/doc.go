// Package analysis derives aberration budgets from a PASTIS matrix.
//
// The matrix M maps an aberration vector a, in nm per mode, to the mean
// dark-hole contrast:
//
//	c(a) = c0 + aᵀ M a
//
// where c0 is the contrast floor of the unaberrated coronagraph.
//
//   - [Eigenmodes]: eigendecomposition of M, most sensitive mode first
//   - [Contrast]: contrast of an arbitrary aberration vector
//   - [ModeTolerances]: per-eigenmode aberration budget for a target contrast
//   - [Project]: coefficients of an aberration in the eigenmode basis
//
// # Tolerancing
//
// Splitting the allowed contrast c_t - c0 evenly over the N eigenmodes gives
// each mode p the budget
//
//	σ_p = sqrt((c_t - c0) / (N λ_p))
//
// Modes with a non-positive eigenvalue do not degrade contrast and get an
// infinite budget.
package analysis
