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
	"errors"
	"fmt"

	"github.com/ctessum/sparse"
	log "github.com/sirupsen/logrus"
)

// PressureLevels is the fixed axis of 19 mandatory pressure levels
// [hPa] that every level-dependent output field is interpolated onto.
// It matches the NCEP FNL reanalysis levels and is never derived from
// the input.
var PressureLevels = []float64{
	1000, 975, 950, 925, 900, 850, 800, 750, 700,
	650, 600, 550, 500, 450, 400, 350, 300, 250, 200,
}

// Domain window the output is cropped to.
const (
	DomainLatMin = 5.0
	DomainLatMax = 45.0
	DomainLonMin = 100.0
	DomainLonMax = 260.0
)

// fields is the fixed list of output fields, in output order.
// onLevels marks the fields that are interpolated onto PressureLevels.
var fields = []struct {
	name     string
	calc     func(*File) (*Variable, error)
	onLevels bool
}{
	{"absvprs", calcVorticity, true},
	{"capesfc", calcCAPE, false},
	{"hgtprs", calcGeopotential, true},
	{"rhprs", calcRelativeHumidity, true},
	{"tmpprs", calcTemperature, true},
	// tmpsfc is missing from the source data.
	{"ugrdprs", calcUWind, true},
	{"vgrdprs", calcVWind, true},
	{"vvelprs", calcWWind, true},
	{"slp", calcSLP, false},
}

// Extract derives all output fields from the given WRF time slice and
// assembles them into a dataset. A field whose source variables are
// absent from this particular file is logged and dropped; any other
// failure aborts the extraction.
func Extract(f *File) (*Dataset, error) {
	t, err := f.Time()
	if err != nil {
		return nil, err
	}
	log.Info(t.Format(TimeFormat))

	pressure, err := readPressure(f)
	if err != nil {
		return nil, err
	}

	lat, lon, err := coordinates(f)
	if err != nil {
		return nil, err
	}
	ds := NewDataset(lat, lon, PressureLevels, t)
	for _, name := range f.AttrNames() {
		ds.SetAttr(name, f.Attr(name))
	}

	for _, fs := range fields {
		v, err := fs.calc(f)
		if err != nil {
			if recoverable(err) {
				log.Warnf("%s cannot be extracted: %v", fs.name, err)
				continue
			}
			return nil, fmt.Errorf("wrf2fnl: extracting %s: %v", fs.name, err)
		}
		if fs.onLevels {
			v.Data = InterpLevel(v.Data, pressure, PressureLevels)
		}
		ds.AddVariable(fs.name, v)
		log.Infof("%s is extracted with shape %v.", fs.name, v.Data.Shape)
	}
	return ds, nil
}

// recoverable reports whether a field-extraction error should drop the
// field rather than abort the run. Only a missing source variable is
// recoverable; the output may legitimately lack such fields.
func recoverable(err error) bool {
	var nf VarNotFoundError
	return errors.As(err, &nf)
}

// coordinates extracts the latitude and longitude axes from the 2-d
// coordinate fields: latitude varies along the first column of XLAT
// and longitude along the first row of XLONG.
func coordinates(f *File) (lat, lon []float64, err error) {
	xlat, err := f.ReadVar("XLAT")
	if err != nil {
		return nil, nil, err
	}
	xlong, err := f.ReadVar("XLONG")
	if err != nil {
		return nil, nil, err
	}
	lat = make([]float64, xlat.Shape[0])
	for j := range lat {
		lat[j] = xlat.Get(j, 0)
	}
	lon = make([]float64, xlong.Shape[1])
	for i := range lon {
		lon[i] = xlong.Get(0, i)
	}
	return lat, lon, nil
}

// readPressure returns full pressure [hPa], the vertical coordinate
// for interpolation onto pressure levels.
func readPressure(f *File) (*sparse.DenseArray, error) {
	p, err := f.ReadVar("P")
	if err != nil {
		return nil, err
	}
	pb, err := f.ReadVar("PB")
	if err != nil {
		return nil, err
	}
	return FullPressure(p, pb), nil
}

// readTemperature returns ambient temperature [K].
func readTemperature(f *File) (*sparse.DenseArray, error) {
	theta, err := f.ReadVar("T")
	if err != nil {
		return nil, err
	}
	pressure, err := readPressure(f)
	if err != nil {
		return nil, err
	}
	return AmbientTemperature(theta, pressure), nil
}

// readHeight returns geopotential height [m] on the mass grid.
func readHeight(f *File) (*sparse.DenseArray, error) {
	ph, err := f.ReadVar("PH")
	if err != nil {
		return nil, err
	}
	phb, err := f.ReadVar("PHB")
	if err != nil {
		return nil, err
	}
	z := Geopotential(ph, phb)
	z.Scale(1. / g)
	return z, nil
}

// projectionAttr describes the native map projection; it cannot be
// serialized into the output file and is stripped by the container
// builder.
func projectionAttr(f *File) string {
	proj, err := f.AttrFloat("MAP_PROJ")
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("map_proj=%d", int(proj))
}

func calcVorticity(f *File) (*Variable, error) {
	u, err := f.ReadVar("U")
	if err != nil {
		return nil, err
	}
	v, err := f.ReadVar("V")
	if err != nil {
		return nil, err
	}
	msf, err := f.ReadVar("MAPFAC_M")
	if err != nil {
		return nil, err
	}
	cor, err := f.ReadVar("F")
	if err != nil {
		return nil, err
	}
	dx, err := f.AttrFloat("DX")
	if err != nil {
		return nil, err
	}
	dy, err := f.AttrFloat("DY")
	if err != nil {
		return nil, err
	}
	avo := AbsoluteVorticity(Destagger(u, 2), Destagger(v, 1), msf, cor, dx, dy)
	return newVariable(f, avo, "Absolute vorticity", "10-5 s-1"), nil
}

func calcCAPE(f *File) (*Variable, error) {
	temperature, err := readTemperature(f)
	if err != nil {
		return nil, err
	}
	qv, err := f.ReadVar("QVAPOR")
	if err != nil {
		return nil, err
	}
	pressure, err := readPressure(f)
	if err != nil {
		return nil, err
	}
	height, err := readHeight(f)
	if err != nil {
		return nil, err
	}
	cape := SurfaceCAPE(temperature, qv, pressure, height)
	return newVariable(f, cape, "Surface-based convective available potential energy", "J kg-1"), nil
}

func calcGeopotential(f *File) (*Variable, error) {
	ph, err := f.ReadVar("PH")
	if err != nil {
		return nil, err
	}
	phb, err := f.ReadVar("PHB")
	if err != nil {
		return nil, err
	}
	return newVariable(f, Geopotential(ph, phb), "Geopotential", "m2 s-2"), nil
}

func calcRelativeHumidity(f *File) (*Variable, error) {
	qv, err := f.ReadVar("QVAPOR")
	if err != nil {
		return nil, err
	}
	temperature, err := readTemperature(f)
	if err != nil {
		return nil, err
	}
	pressure, err := readPressure(f)
	if err != nil {
		return nil, err
	}
	rh := RelativeHumidity(qv, temperature, pressure)
	return newVariable(f, rh, "Relative humidity", "%"), nil
}

func calcTemperature(f *File) (*Variable, error) {
	theta, err := f.ReadVar("T")
	if err != nil {
		return nil, err
	}
	return newVariable(f, theta, "Perturbation potential temperature", "K"), nil
}

func calcUWind(f *File) (*Variable, error) {
	u, err := f.ReadVar("U")
	if err != nil {
		return nil, err
	}
	return newVariable(f, Destagger(u, 2), "West-east wind component", "m s-1"), nil
}

func calcVWind(f *File) (*Variable, error) {
	v, err := f.ReadVar("V")
	if err != nil {
		return nil, err
	}
	return newVariable(f, Destagger(v, 1), "South-north wind component", "m s-1"), nil
}

func calcWWind(f *File) (*Variable, error) {
	w, err := f.ReadVar("W")
	if err != nil {
		return nil, err
	}
	return newVariable(f, Destagger(w, 0), "Vertical wind component", "m s-1"), nil
}

func calcSLP(f *File) (*Variable, error) {
	pressure, err := readPressure(f)
	if err != nil {
		return nil, err
	}
	temperature, err := readTemperature(f)
	if err != nil {
		return nil, err
	}
	qv, err := f.ReadVar("QVAPOR")
	if err != nil {
		return nil, err
	}
	height, err := readHeight(f)
	if err != nil {
		return nil, err
	}
	slp := SeaLevelPressure(pressure, temperature, qv, height)
	return newVariable(f, slp, "Sea level pressure", "hPa"), nil
}

// newVariable bundles field data with its metadata, including the
// non-serializable projection attribute that the container builder
// strips before writing.
func newVariable(f *File, data *sparse.DenseArray, description, units string) *Variable {
	return &Variable{
		Data:        data,
		Description: description,
		Units:       units,
		Attrs:       map[string]string{"projection": projectionAttr(f)},
	}
}
