package mirror

import "math"

// NollToNM converts a 1-based Noll index to radial order n and azimuthal
// frequency m. Even indices carry cosine terms (m > 0), odd indices sine
// terms (m < 0).
func NollToNM(j int) (n, m int) {
	n = int(math.Sqrt(float64(2*j-1))+0.5) - 1
	if n%2 == 1 {
		m = 2*((2*(j+1)-n*(n+1))/4) - 1
	} else {
		m = 2 * ((2*j + 1 - n*(n+1)) / 4)
	}
	if j%2 == 1 {
		m = -m
	}
	return n, m
}

// Zernike evaluates the RMS-normalized Noll Zernike polynomial j at polar
// coordinates (rho, theta), rho in units of the normalization radius.
func Zernike(j int, rho, theta float64) float64 {
	n, m := NollToNM(j)
	am := m
	if am < 0 {
		am = -am
	}
	r := radial(n, am, rho)
	if m == 0 {
		return math.Sqrt(float64(n+1)) * r
	}
	norm := math.Sqrt(2 * float64(n+1))
	if m > 0 {
		return norm * r * math.Cos(float64(am)*theta)
	}
	return norm * r * math.Sin(float64(am)*theta)
}

func radial(n, m int, rho float64) float64 {
	sum := 0.0
	for k := 0; k <= (n-m)/2; k++ {
		c := factorial(n-k) / (factorial(k) * factorial((n+m)/2-k) * factorial((n-m)/2-k))
		if k%2 == 1 {
			c = -c
		}
		sum += c * math.Pow(rho, float64(n-2*k))
	}
	return sum
}

func factorial(n int) float64 {
	f := 1.0
	for i := 2; i <= n; i++ {
		f *= float64(i)
	}
	return f
}
