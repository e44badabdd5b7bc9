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
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// TimeFormat is the layout of the timestamp in output filenames.
const TimeFormat = "20060102_15_04"

// Variable is one named output field with its metadata.
type Variable struct {
	Data        *sparse.DenseArray
	Dims        []string // netcdf dimensions for this variable
	Description string
	Units       string
	Attrs       map[string]string
}

// Dataset holds the extracted fields together with their coordinate
// axes and the global attributes carried over from the input file.
type Dataset struct {
	// Fields maps output field names to their data; names holds the
	// insertion order.
	Fields map[string]*Variable
	names  []string

	Lat, Lon, Lev []float64

	Time time.Time

	attrs     map[string]interface{}
	attrNames []string
}

// NewDataset returns an empty dataset with the given coordinate axes
// and time value.
func NewDataset(lat, lon, lev []float64, t time.Time) *Dataset {
	return &Dataset{
		Fields: make(map[string]*Variable),
		Lat:    lat,
		Lon:    lon,
		Lev:    append([]float64(nil), lev...),
		Time:   t,
		attrs:  make(map[string]interface{}),
	}
}

// SetAttr sets a global attribute that will be copied onto the output
// file. Values follow the attribute types of the underlying format.
func (d *Dataset) SetAttr(name string, value interface{}) {
	if _, ok := d.attrs[name]; !ok {
		d.attrNames = append(d.attrNames, name)
	}
	d.attrs[name] = value
}

// AddVariable adds a field to d. A field with 3 axes is tagged with
// dimensions (lev, lat, lon), any other with (lat, lon). The
// non-serializable "projection" attribute is stripped from the field
// metadata.
func (d *Dataset) AddVariable(name string, v *Variable) {
	if len(v.Data.Shape) == 3 {
		v.Dims = []string{"lev", "lat", "lon"}
	} else {
		v.Dims = []string{"lat", "lon"}
	}
	delete(v.Attrs, "projection")
	if _, ok := d.Fields[name]; !ok {
		d.names = append(d.names, name)
	}
	d.Fields[name] = v
}

// Crop subsets the dataset to the inclusive latitude/longitude window.
// Every index whose coordinate lies inside the window is kept.
func (d *Dataset) Crop(latMin, latMax, lonMin, lonMax float64) {
	latIdx := indicesWithin(d.Lat, latMin, latMax)
	lonIdx := indicesWithin(d.Lon, lonMin, lonMax)

	d.Lat = subsetAxis(d.Lat, latIdx)
	d.Lon = subsetAxis(d.Lon, lonIdx)

	for _, name := range d.names {
		v := d.Fields[name]
		switch len(v.Data.Shape) {
		case 3:
			nz := v.Data.Shape[0]
			out := sparse.ZerosDense(nz, len(latIdx), len(lonIdx))
			for k := 0; k < nz; k++ {
				for j, jj := range latIdx {
					for i, ii := range lonIdx {
						out.Set(v.Data.Get(k, jj, ii), k, j, i)
					}
				}
			}
			v.Data = out
		case 2:
			out := sparse.ZerosDense(len(latIdx), len(lonIdx))
			for j, jj := range latIdx {
				for i, ii := range lonIdx {
					out.Set(v.Data.Get(jj, ii), j, i)
				}
			}
			v.Data = out
		}
	}
}

func indicesWithin(axis []float64, min, max float64) []int {
	var idx []int
	for i, v := range axis {
		if v >= min && v <= max {
			idx = append(idx, i)
		}
	}
	return idx
}

func subsetAxis(axis []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for i, ii := range idx {
		out[i] = axis[ii]
	}
	return out
}

// Filename is the name of the output file for the given prefix:
// {prefix}_{YYYYMMDD_HH_MM}.nc from the dataset's time value.
func (d *Dataset) Filename(prefix string) string {
	return fmt.Sprintf("%s_%s.nc", prefix, d.Time.Format(TimeFormat))
}

// WriteFile writes d to dir/{prefix}_{timestamp}.nc, creating dir if
// it does not exist and overwriting any existing file at that path.
// It returns the path of the written file.
func (d *Dataset) WriteFile(dir, prefix string) (string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("wrf2fnl: creating output directory: %v", err)
	}
	path := filepath.Join(dir, d.Filename(prefix))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("wrf2fnl: creating output file: %v", err)
	}
	if err := d.Write(f); err != nil {
		f.Close()
		os.Remove(path) // leave no partial output behind
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("wrf2fnl: closing output file: %v", err)
	}
	return path, nil
}

// Write writes d to netcdf file w.
func (d *Dataset) Write(w *os.File) error {
	h := cdf.NewHeader(
		[]string{"lev", "lat", "lon"},
		[]int{len(d.Lev), len(d.Lat), len(d.Lon)})

	for _, name := range d.attrNames {
		h.AddAttribute("", name, d.attrs[name])
	}

	h.AddVariable("lev", []string{"lev"}, []float64{0})
	h.AddAttribute("lev", "units", "hPa")
	h.AddVariable("lat", []string{"lat"}, []float64{0})
	h.AddAttribute("lat", "units", "degrees_north")
	h.AddVariable("lon", []string{"lon"}, []float64{0})
	h.AddAttribute("lon", "units", "degrees_east")

	// Sort the names so they write in the same order every time.
	names := make([]string, len(d.names))
	copy(names, d.names)
	sort.Strings(names)

	for _, name := range names {
		v := d.Fields[name]
		h.AddVariable(name, v.Dims, []float32{0})
		h.AddAttribute(name, "description", v.Description)
		h.AddAttribute(name, "units", v.Units)
		for _, a := range sortedKeys(v.Attrs) {
			h.AddAttribute(name, a, v.Attrs[a])
		}
	}
	h.Define()

	f, err := cdf.Create(w, h) // writes the header to w
	if err != nil {
		return fmt.Errorf("wrf2fnl: writing output header: %v", err)
	}

	for axis, vals := range map[string][]float64{"lev": d.Lev, "lat": d.Lat, "lon": d.Lon} {
		end := h.Lengths(axis)
		start := make([]int, len(end))
		wr := f.Writer(axis, start, end)
		if _, err := wr.Write(vals); err != nil {
			return fmt.Errorf("wrf2fnl: writing coordinate %s: %v", axis, err)
		}
	}

	for _, name := range names {
		if err := writeNCF(f, name, d.Fields[name].Data); err != nil {
			return fmt.Errorf("wrf2fnl: writing variable %s to netcdf file: %v", name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeNCF(f *cdf.File, name string, data *sparse.DenseArray) error {
	// Check that data matches dimensions.
	n := 1
	for _, v := range data.Shape {
		n *= v
	}
	if len(data.Elements) != n {
		return fmt.Errorf("dims are %d but array length is %d", n, len(data.Elements))
	}

	data32 := make([]float32, len(data.Elements))
	for i, e := range data.Elements {
		data32[i] = float32(e)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}
