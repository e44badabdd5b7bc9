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
	"io"
	"os"
	"strings"
	"time"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"
)

// VarNotFoundError is returned when a requested variable does not
// exist in the input file. It is the only recoverable failure during
// field extraction: the corresponding output field is dropped and
// extraction continues.
type VarNotFoundError struct {
	Var string
}

func (e VarNotFoundError) Error() string {
	return fmt.Sprintf("wrf2fnl: variable %s not in file", e.Var)
}

// memFile is an in-memory ReaderWriterAt. The whole input file is
// held in memory so that longitude rewriting never touches the file
// on disk, matching the diskless, non-persisted open of the data
// this tool replaces.
type memFile struct {
	b []byte
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.b)) {
		return 0, io.EOF
	}
	n := copy(p, m.b[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if need := off + int64(len(p)); need > int64(len(m.b)) {
		grown := make([]byte, need)
		copy(grown, m.b)
		m.b = grown
	}
	return copy(m.b[off:], p), nil
}

// File is a single WRF output file loaded into memory.
type File struct {
	cf *cdf.File
	mf *memFile
}

// OpenFile reads the WRF output file at path fully into memory and
// parses its header.
func OpenFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wrf2fnl: opening input file: %v", err)
	}
	mf := &memFile{b: b}
	cf, err := cdf.Open(mf)
	if err != nil {
		return nil, fmt.Errorf("wrf2fnl: reading input header: %v", err)
	}
	return &File{cf: cf, mf: mf}, nil
}

// ReadVar reads the named variable at the first time index into a
// dense array, dropping the leading Time dimension.
func (f *File) ReadVar(name string) (*sparse.DenseArray, error) {
	dims := f.cf.Header.Lengths(name)
	if len(dims) == 0 {
		return nil, VarNotFoundError{Var: name}
	}
	dims = dims[1:]
	nread := 1
	for _, d := range dims {
		nread *= d
	}
	start, end := make([]int, len(dims)+1), make([]int, len(dims)+1)
	start[0], end[0] = 0, 1
	for i, d := range dims {
		end[i+1] = d
	}
	r := f.cf.Reader(name, start, end)
	buf := r.Zero(nread)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("wrf2fnl: reading variable %s: %v", name, err)
	}
	data := sparse.ZerosDense(dims...)
	switch vals := buf.(type) {
	case []float32:
		for i, v := range vals {
			data.Elements[i] = float64(v)
		}
	case []float64:
		copy(data.Elements, vals)
	default:
		return nil, fmt.Errorf("wrf2fnl: variable %s has unsupported type %T", name, buf)
	}
	return data, nil
}

// Attr returns the value of the named global attribute, or nil if it
// is not present.
func (f *File) Attr(name string) interface{} {
	return f.cf.Header.GetAttribute("", name)
}

// AttrFloat returns the first element of a numeric global attribute.
func (f *File) AttrFloat(name string) (float64, error) {
	switch v := f.Attr(name).(type) {
	case []float32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	case []float64:
		if len(v) > 0 {
			return v[0], nil
		}
	case []int32:
		if len(v) > 0 {
			return float64(v[0]), nil
		}
	}
	return 0, fmt.Errorf("wrf2fnl: global attribute %s is missing or not numeric", name)
}

// AttrNames returns the names of all global attributes, in file order.
func (f *File) AttrNames() []string {
	return f.cf.Header.Attributes("")
}

// Times returns the time axis of the file, parsed from the XTIME
// variable and its units attribute ("minutes since YYYY-MM-DD HH:MM:SS").
func (f *File) Times() ([]time.Time, error) {
	dims := f.cf.Header.Lengths("XTIME")
	if len(dims) == 0 {
		return nil, VarNotFoundError{Var: "XTIME"}
	}
	nt := dims[0]
	if nt == 0 { // record dimension; count records from the file size.
		nt = int(f.cf.Header.NumRecs(int64(len(f.mf.b))))
	}
	units, ok := f.cf.Header.GetAttribute("XTIME", "units").(string)
	if !ok {
		return nil, fmt.Errorf("wrf2fnl: XTIME has no units attribute")
	}
	base, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	r := f.cf.Reader("XTIME", []int{0}, []int{nt})
	buf := r.Zero(nt)
	if _, err := r.Read(buf); err != nil {
		return nil, fmt.Errorf("wrf2fnl: reading XTIME: %v", err)
	}
	times := make([]time.Time, nt)
	switch vals := buf.(type) {
	case []float32:
		for i, v := range vals {
			times[i] = base.Add(time.Duration(float64(v) * float64(time.Minute)))
		}
	case []float64:
		for i, v := range vals {
			times[i] = base.Add(time.Duration(v * float64(time.Minute)))
		}
	default:
		return nil, fmt.Errorf("wrf2fnl: XTIME has unsupported type %T", buf)
	}
	return times, nil
}

// Time returns the file's single time value. It is an error for the
// file to hold more than one time step; this tool processes exactly
// one time slice per invocation.
func (f *File) Time() (time.Time, error) {
	times, err := f.Times()
	if err != nil {
		return time.Time{}, err
	}
	if len(times) != 1 {
		return time.Time{}, fmt.Errorf("wrf2fnl: input has %d time values; only works with data at a single time", len(times))
	}
	return times[0], nil
}

// parseTimeUnits parses a CF-style "minutes since YYYY-MM-DD HH:MM:SS"
// units string.
func parseTimeUnits(units string) (time.Time, error) {
	const prefix = "minutes since "
	if !strings.HasPrefix(units, prefix) {
		return time.Time{}, fmt.Errorf("wrf2fnl: unsupported time units %q", units)
	}
	base, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(strings.TrimPrefix(units, prefix)))
	if err != nil {
		return time.Time{}, fmt.Errorf("wrf2fnl: parsing time units %q: %v", units, err)
	}
	return base, nil
}

// NormalizeLongitudes rewrites every negative XLONG value x to x+360,
// in place in the memory copy, so all longitudes lie in [0, 360).
func (f *File) NormalizeLongitudes() error {
	dims := f.cf.Header.Lengths("XLONG")
	if len(dims) == 0 {
		return VarNotFoundError{Var: "XLONG"}
	}
	n := 1
	start, end := make([]int, len(dims)), make([]int, len(dims))
	for i, d := range dims {
		if i == 0 && d == 0 {
			d = 1 // first record only
		}
		end[i] = d
		n *= d
	}
	r := f.cf.Reader("XLONG", start, end)
	buf := r.Zero(n)
	if _, err := r.Read(buf); err != nil {
		return fmt.Errorf("wrf2fnl: reading XLONG: %v", err)
	}
	switch vals := buf.(type) {
	case []float32:
		for i, v := range vals {
			if v < 0 {
				vals[i] = v + 360
			}
		}
	case []float64:
		for i, v := range vals {
			if v < 0 {
				vals[i] = v + 360
			}
		}
	default:
		return fmt.Errorf("wrf2fnl: XLONG has unsupported type %T", buf)
	}
	w := f.cf.Writer("XLONG", start, end)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("wrf2fnl: rewriting XLONG: %v", err)
	}
	return nil
}
