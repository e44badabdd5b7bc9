/*
Copyright © 2023 the wrf2fnl authors.
This file is part of wrf2fnl.

wrf2fnl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

wrf2fnl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with wrf2fnl.  If not, see <http://www.gnu.org/licenses/>.
*/

package wrf2fnl

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
)

// physical constants
const (
	g     = 9.80665  // m/s2
	rd    = 287.058  // (J /kg K), specific gas constant for dry air
	po    = 100000.  // Pa, WRF reference pressure
	kappa = 0.2854   // rd/cp
	εvap  = 0.622    // ratio of molar masses of water vapor and dry air
	tZero = 273.15   // K
)

// Destagger interpolates a variable defined on a grid staggered in
// the given dimension onto the unstaggered mass grid by averaging
// the two values bracketing each mass point.
func Destagger(in *sparse.DenseArray, staggerDim int) *sparse.DenseArray {
	if len(in.Shape) != 3 {
		panic(fmt.Errorf("wrf2fnl: need a 3-d array to destagger instead of %d-d", len(in.Shape)))
	}
	outShape := make([]int, 3)
	outShape[0], outShape[1], outShape[2] = in.Shape[0], in.Shape[1], in.Shape[2]
	outShape[staggerDim]--
	out := sparse.ZerosDense(outShape...)
	for k := 0; k < outShape[0]; k++ {
		for j := 0; j < outShape[1]; j++ {
			for i := 0; i < outShape[2]; i++ {
				var v float64
				switch staggerDim {
				case 0:
					v = (in.Get(k, j, i) + in.Get(k+1, j, i)) / 2
				case 1:
					v = (in.Get(k, j, i) + in.Get(k, j+1, i)) / 2
				case 2:
					v = (in.Get(k, j, i) + in.Get(k, j, i+1)) / 2
				default:
					panic(fmt.Errorf("wrf2fnl: invalid stagger dimension %d", staggerDim))
				}
				out.Set(v, k, j, i)
			}
		}
	}
	return out
}

// FullPressure combines perturbation and base-state pressure [Pa]
// into full pressure [hPa].
func FullPressure(p, pb *sparse.DenseArray) *sparse.DenseArray {
	out := pb.Copy()
	out.AddDense(p)
	out.Scale(1. / 100.)
	return out
}

// AmbientTemperature converts perturbation potential temperature [K]
// to ambient temperature [K] for the given pressure [hPa].
func AmbientTemperature(thetaPerturb, pressure *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(thetaPerturb.Shape...)
	for i, tp := range thetaPerturb.Elements {
		out.Elements[i] = thetaPerturbToTemperature(tp, pressure.Elements[i]*100)
	}
	return out
}

// thetaPerturbToTemperature converts perturbation potential temperature
// to ambient temperature for the given pressure (p [Pa]).
func thetaPerturbToTemperature(thetaPerturb, p float64) float64 {
	pressureCorrection := math.Pow(p/po, kappa)
	// potential temperature, K
	θ := thetaPerturb + 300.
	// Ambient temperature, K
	return θ * pressureCorrection
}

// satVaporPressure is the saturation vapor pressure [hPa] over liquid
// water at temperature t [K] (Bolton 1980).
func satVaporPressure(t float64) float64 {
	return 6.112 * math.Exp(17.67*(t-tZero)/(t-29.65))
}

// satMixingRatio is the saturation water vapor mixing ratio [kg/kg]
// at temperature t [K] and pressure p [hPa].
func satMixingRatio(t, p float64) float64 {
	es := satVaporPressure(t)
	if p-es <= 0 {
		return math.Inf(1)
	}
	return εvap * es / (p - (1-εvap)*es)
}

// RelativeHumidity calculates relative humidity [%] from water vapor
// mixing ratio [kg/kg], ambient temperature [K], and pressure [hPa],
// clamped to [0, 100].
func RelativeHumidity(qv, temperature, pressure *sparse.DenseArray) *sparse.DenseArray {
	out := sparse.ZerosDense(qv.Shape...)
	for i, q := range qv.Elements {
		qvs := satMixingRatio(temperature.Elements[i], pressure.Elements[i])
		rh := q / qvs * 100
		out.Elements[i] = math.Min(math.Max(rh, 0), 100)
	}
	return out
}

// AbsoluteVorticity calculates absolute vorticity [1e-5 s-1] from the
// destaggered horizontal winds [m/s], the map-scale factor on the mass
// grid, the Coriolis parameter [s-1], and the grid spacing [m], using
// centered differences (one-sided at the domain edges).
func AbsoluteVorticity(u, v, msf, cor *sparse.DenseArray, dx, dy float64) *sparse.DenseArray {
	out := sparse.ZerosDense(u.Shape...)
	nz, ny, nx := u.Shape[0], u.Shape[1], u.Shape[2]
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				dvdx := centeredDiff(func(n int) float64 { return v.Get(k, j, n) }, i, nx, dx)
				dudy := centeredDiff(func(n int) float64 { return u.Get(k, n, i) }, j, ny, dy)
				avo := (msf.Get(j, i)*(dvdx-dudy) + cor.Get(j, i)) * 1.e5
				out.Set(avo, k, j, i)
			}
		}
	}
	return out
}

// centeredDiff is a centered finite difference of f along one axis,
// falling back to a one-sided difference at the edges.
func centeredDiff(f func(int) float64, i, n int, d float64) float64 {
	switch i {
	case 0:
		return (f(1) - f(0)) / d
	case n - 1:
		return (f(n-1) - f(n-2)) / d
	default:
		return (f(i+1) - f(i-1)) / (2 * d)
	}
}

// Geopotential combines perturbation and base-state geopotential
// [m2/s2] and destaggers the result onto the mass grid.
func Geopotential(ph, phb *sparse.DenseArray) *sparse.DenseArray {
	hgt := ph.Copy()
	hgt.AddDense(phb)
	return Destagger(hgt, 0)
}

// SeaLevelPressure reduces the lowest-model-level pressure to sea
// level [hPa], using the standard WRF algorithm: find the level about
// 100 hPa above the surface, interpolate virtual temperature there,
// and extrapolate it downward with a constant 6.5 K/km lapse rate.
// Inputs are pressure [hPa], ambient temperature [K], water vapor
// mixing ratio [kg/kg], and geopotential height [m] on the mass grid.
func SeaLevelPressure(pressure, temperature, qv, height *sparse.DenseArray) *sparse.DenseArray {
	const (
		pconst = 100.   // hPa
		gamma  = 0.0065 // K/m, assumed surface lapse rate
		tc     = tZero + 17.5
	)
	nz, ny, nx := pressure.Shape[0], pressure.Shape[1], pressure.Shape[2]
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			pSfc := pressure.Get(0, j, i)
			pTarget := pSfc - pconst
			khi := 1
			for k := 1; k < nz; k++ {
				khi = k
				if pressure.Get(k, j, i) < pTarget {
					break
				}
			}
			klo := khi - 1

			plo, phi := pressure.Get(klo, j, i), pressure.Get(khi, j, i)
			tlo := temperature.Get(klo, j, i) * (1 + 0.608*qv.Get(klo, j, i))
			thi := temperature.Get(khi, j, i) * (1 + 0.608*qv.Get(khi, j, i))
			zlo, zhi := height.Get(klo, j, i), height.Get(khi, j, i)

			frac := math.Log(pTarget/phi) / math.Log(plo/phi)
			tAtTarget := thi - (thi-tlo)*frac
			zAtTarget := zhi - (zhi-zlo)*frac

			tSurf := tAtTarget * math.Pow(pSfc/pTarget, gamma*rd/g)
			tSeaLevel := tAtTarget + gamma*zAtTarget

			// Correction for unrealistically warm columns.
			if tSurf <= tc && tSeaLevel >= tc {
				tSeaLevel = tc
			} else if tSurf > tc && tSeaLevel >= tc {
				tSeaLevel = tc - 0.005*(tSurf-tc)*(tSurf-tc)
			}

			slp := pSfc * math.Exp(2*g*height.Get(0, j, i)/(rd*(tSeaLevel+tSurf)))
			out.Set(slp, j, i)
		}
	}
	return out
}

// SurfaceCAPE calculates surface-based convective available potential
// energy [J/kg] by lifting the lowest-model-level parcel dry
// adiabatically to its lifting condensation level (Bolton 1980) and
// pseudoadiabatically above it, integrating positive buoyancy.
// Inputs are ambient temperature [K], water vapor mixing ratio
// [kg/kg], pressure [hPa], and geopotential height [m].
func SurfaceCAPE(temperature, qv, pressure, height *sparse.DenseArray) *sparse.DenseArray {
	nz, ny, nx := temperature.Shape[0], temperature.Shape[1], temperature.Shape[2]
	out := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			t0 := temperature.Get(0, j, i)
			q0 := qv.Get(0, j, i)
			p0hPa := pressure.Get(0, j, i)

			θ := t0 * math.Pow(1000./p0hPa, kappa)
			// vapor pressure [hPa]; floored so a dry parcel gets an
			// unreachably cold condensation level instead of a NaN.
			e := math.Max(q0*p0hPa/(εvap+q0), 1.e-20)
			tlcl := 2840./(3.5*math.Log(t0)-math.Log(e)-4.805) + 55.
			θe := θ * math.Exp((3.376/tlcl-0.00254)*1000*q0*(1+0.81*q0))

			cape := 0.
			for k := 1; k < nz; k++ {
				p := pressure.Get(k, j, i)
				tDry := θ * math.Pow(p/1000., kappa)
				var tParcel, qParcel float64
				if tDry >= tlcl { // below condensation level
					tParcel, qParcel = tDry, q0
				} else {
					tParcel = invertThetaE(θe, p)
					qParcel = satMixingRatio(tParcel, p)
				}
				tvParcel := tParcel * (1 + 0.608*qParcel)
				tvEnv := temperature.Get(k, j, i) * (1 + 0.608*qv.Get(k, j, i))
				buoyancy := g * (tvParcel - tvEnv) / tvEnv
				dz := height.Get(k, j, i) - height.Get(k-1, j, i)
				if buoyancy > 0 {
					cape += buoyancy * dz
				}
			}
			out.Set(cape, j, i)
		}
	}
	return out
}

// saturatedThetaE is the equivalent potential temperature [K] of a
// saturated parcel at temperature t [K] and pressure p [hPa].
func saturatedThetaE(t, p float64) float64 {
	rs := satMixingRatio(t, p)
	θ := t * math.Pow(1000./p, kappa)
	return θ * math.Exp((3.376/t-0.00254)*1000*rs*(1+0.81*rs))
}

// invertThetaE finds the temperature [K] at which a saturated parcel
// at pressure p [hPa] has the given equivalent potential temperature,
// by bisection. saturatedThetaE is monotonic in temperature over the
// atmospheric range.
func invertThetaE(θe, p float64) float64 {
	lo, hi := 100., 400.
	for n := 0; n < 60; n++ {
		mid := (lo + hi) / 2
		if saturatedThetaE(mid, p) < θe {
			lo = mid
		} else {
			hi = mid
		}
	}
	return (lo + hi) / 2
}

// InterpLevel interpolates a 3-d field onto the given pressure levels
// [hPa], linearly in pressure within each column. Levels outside the
// column's pressure range are filled with NaN.
func InterpLevel(in, pressure *sparse.DenseArray, levels []float64) *sparse.DenseArray {
	nz, ny, nx := in.Shape[0], in.Shape[1], in.Shape[2]
	out := sparse.ZerosDense(len(levels), ny, nx)
	col := make([]float64, nz)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			for k := 0; k < nz; k++ {
				col[k] = pressure.Get(k, j, i)
			}
			pmin, pmax := floats.Min(col), floats.Max(col)
			for l, lv := range levels {
				if lv < pmin || lv > pmax {
					out.Set(math.NaN(), l, j, i)
					continue
				}
				v := math.NaN()
				for k := 0; k < nz-1; k++ {
					if (col[k] >= lv && col[k+1] <= lv) || (col[k] <= lv && col[k+1] >= lv) {
						if col[k] == col[k+1] {
							v = in.Get(k, j, i)
						} else {
							f := (lv - col[k]) / (col[k+1] - col[k])
							v = in.Get(k, j, i) + f*(in.Get(k+1, j, i)-in.Get(k, j, i))
						}
						break
					}
				}
				out.Set(v, l, j, i)
			}
		}
	}
	return out
}
