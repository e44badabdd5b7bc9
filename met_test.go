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
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

const tolerance = 1.e-8

func different(a, b, tol float64) bool {
	if math.IsNaN(a) != math.IsNaN(b) {
		return true
	}
	if math.IsNaN(a) {
		return false
	}
	return math.Abs(a-b) > tol
}

// column3d builds a (nz, 1, 1) array from a column of values.
func column3d(vals []float64) *sparse.DenseArray {
	out := sparse.ZerosDense(len(vals), 1, 1)
	copy(out.Elements, vals)
	return out
}

func TestDestagger(t *testing.T) {
	in := sparse.ZerosDense(2, 2, 3)
	for i := range in.Elements {
		in.Elements[i] = float64(i)
	}
	out := Destagger(in, 2)
	wantShape := []int{2, 2, 2}
	for i, n := range wantShape {
		if out.Shape[i] != n {
			t.Fatalf("shape = %v; want %v", out.Shape, wantShape)
		}
	}
	// value at (k,j,i) is the mean of the two bracketing inputs.
	if got, want := out.Get(0, 0, 0), 0.5; different(got, want, tolerance) {
		t.Errorf("destaggered value = %v; want %v", got, want)
	}
	if got, want := out.Get(1, 1, 1), 10.5; different(got, want, tolerance) {
		t.Errorf("destaggered value = %v; want %v", got, want)
	}
}

func TestFullPressure(t *testing.T) {
	p := column3d([]float64{250, -500})
	pb := column3d([]float64{100000, 85000})
	out := FullPressure(p, pb)
	if got, want := out.Get(0, 0, 0), 1002.5; different(got, want, tolerance) {
		t.Errorf("pressure = %v hPa; want %v", got, want)
	}
	if got, want := out.Get(1, 0, 0), 845.0; different(got, want, tolerance) {
		t.Errorf("pressure = %v hPa; want %v", got, want)
	}
}

func TestAmbientTemperature(t *testing.T) {
	// Zero perturbation at the reference pressure gives the 300 K base
	// potential temperature back unchanged.
	thetaPerturb := column3d([]float64{0, 0})
	pressure := column3d([]float64{1000, 500})
	out := AmbientTemperature(thetaPerturb, pressure)
	if got, want := out.Get(0, 0, 0), 300.0; different(got, want, 1.e-6) {
		t.Errorf("temperature at 1000 hPa = %v K; want %v", got, want)
	}
	want := 300 * math.Pow(0.5, kappa)
	if got := out.Get(1, 0, 0); different(got, want, 1.e-6) {
		t.Errorf("temperature at 500 hPa = %v K; want %v", got, want)
	}
}

func TestRelativeHumidity(t *testing.T) {
	const temp, press = 290.0, 950.0
	qvs := satMixingRatio(temp, press)

	qv := column3d([]float64{0, qvs / 2, qvs * 2})
	tt := column3d([]float64{temp, temp, temp})
	pp := column3d([]float64{press, press, press})
	out := RelativeHumidity(qv, tt, pp)

	for i, want := range []float64{0, 50, 100} { // supersaturation clamps to 100
		if got := out.Get(i, 0, 0); different(got, want, 1.e-6) {
			t.Errorf("rh[%d] = %v%%; want %v", i, got, want)
		}
	}
}

func TestAbsoluteVorticity(t *testing.T) {
	// Solid-body rotation u = -ω y, v = ω x has relative vorticity 2ω
	// everywhere, and the finite differences are exact for linear winds.
	const (
		ω  = 1.e-5 // s-1
		dx = 10000.
		dy = 10000.
		f0 = 5.e-5
	)
	nz, ny, nx := 2, 5, 6
	u := sparse.ZerosDense(nz, ny, nx)
	v := sparse.ZerosDense(nz, ny, nx)
	msf := sparse.ZerosDense(ny, nx)
	cor := sparse.ZerosDense(ny, nx)
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			msf.Set(1, j, i)
			cor.Set(f0, j, i)
			for k := 0; k < nz; k++ {
				u.Set(-ω*float64(j)*dy, k, j, i)
				v.Set(ω*float64(i)*dx, k, j, i)
			}
		}
	}
	out := AbsoluteVorticity(u, v, msf, cor, dx, dy)
	want := (2*ω + f0) * 1.e5
	for _, e := range out.Elements {
		if different(e, want, 1.e-6) {
			t.Fatalf("absolute vorticity = %v; want %v", e, want)
		}
	}
}

func TestGeopotential(t *testing.T) {
	ph := sparse.ZerosDense(3, 1, 1)
	phb := sparse.ZerosDense(3, 1, 1)
	for k, z := range []float64{0, 1000, 3000} {
		phb.Set(z*g, k, 0, 0)
	}
	out := Geopotential(ph, phb)
	if got, want := out.Get(0, 0, 0), 500*g; different(got, want, 1.e-6) {
		t.Errorf("geopotential = %v; want %v", got, want)
	}
	if got, want := out.Get(1, 0, 0), 2000*g; different(got, want, 1.e-6) {
		t.Errorf("geopotential = %v; want %v", got, want)
	}
}

func TestSeaLevelPressure(t *testing.T) {
	pressure := column3d([]float64{1000, 950, 900, 825, 700, 550, 350, 150})
	thetaPerturb := column3d(make([]float64, 8))
	temperature := AmbientTemperature(thetaPerturb, pressure)
	qv := column3d(make([]float64, 8))
	height := column3d([]float64{250, 800, 1500, 2500, 4050, 6400, 9900, 14000})

	out := SeaLevelPressure(pressure, temperature, qv, height)
	slp := out.Get(0, 0)
	if slp <= 1000 {
		t.Errorf("slp = %v hPa; want above the 1000 hPa surface pressure", slp)
	}
	if slp < 1005 || slp > 1060 {
		t.Errorf("slp = %v hPa; want a plausible value in (1005, 1060)", slp)
	}

	// A column already at sea level reduces to (nearly) its own surface
	// pressure.
	height0 := column3d([]float64{0, 550, 1250, 2250, 3800, 6150, 9650, 13750})
	out0 := SeaLevelPressure(pressure, temperature, qv, height0)
	if got := out0.Get(0, 0); different(got, 1000, 1.e-6) {
		t.Errorf("slp at sea level = %v hPa; want 1000", got)
	}
}

func TestSurfaceCAPEStable(t *testing.T) {
	// An isothermal dry column is absolutely stable: a lifted parcel is
	// always colder than the environment, so CAPE is zero.
	pressure := column3d([]float64{1000, 850, 700, 500, 300})
	temperature := column3d([]float64{300, 300, 300, 300, 300})
	qv := column3d(make([]float64, 5))
	height := column3d([]float64{100, 1450, 3000, 5550, 9100})

	out := SurfaceCAPE(temperature, qv, pressure, height)
	if got := out.Get(0, 0); got != 0 {
		t.Errorf("cape = %v J/kg; want 0 for a stable dry column", got)
	}
}

func TestSurfaceCAPEUnstable(t *testing.T) {
	// Warm, moist surface air under a very cold upper troposphere.
	pressure := column3d([]float64{1000, 850, 700, 500, 300})
	temperature := column3d([]float64{303, 270, 250, 230, 210})
	qv := column3d([]float64{0.02, 0, 0, 0, 0})
	height := column3d([]float64{100, 1500, 3100, 5800, 9500})

	out := SurfaceCAPE(temperature, qv, pressure, height)
	got := out.Get(0, 0)
	if got < 500 {
		t.Errorf("cape = %v J/kg; want substantial instability (>500)", got)
	}
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Errorf("cape = %v; want a finite value", got)
	}
}

func TestInvertThetaE(t *testing.T) {
	for _, tt := range []float64{250, 280, 310} {
		for _, p := range []float64{1000, 700, 400} {
			θe := saturatedThetaE(tt, p)
			got := invertThetaE(θe, p)
			if different(got, tt, 1.e-6) {
				t.Errorf("invertThetaE(saturatedThetaE(%v, %v)) = %v; want %v", tt, p, got, tt)
			}
		}
	}
}

func TestInterpLevel(t *testing.T) {
	pressure := column3d([]float64{1000, 900, 800})
	in := column3d([]float64{0, 10, 20})
	out := InterpLevel(in, pressure, []float64{1000, 950, 800, 700})

	cases := []struct {
		level int
		want  float64
	}{
		{0, 0},          // exactly at the bottom
		{1, 5},          // midway between 1000 and 900
		{2, 20},         // exactly at the top
		{3, math.NaN()}, // outside the column range
	}
	for _, c := range cases {
		if got := out.Get(c.level, 0, 0); different(got, c.want, tolerance) {
			t.Errorf("interpolated value at level %d = %v; want %v", c.level, got, c.want)
		}
	}
}
