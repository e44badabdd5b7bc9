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

// Command wrf2fnl extracts environmental variables from a single time
// slice of WRF model output, interpolates them onto the 19 mandatory
// pressure levels, crops the result to 5N-45N and 100E-260E, and
// writes one NetCDF file compatible with the NCEP FNL reanalysis
// layout.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/spatialmet/wrf2fnl"
)

var prefix string

var rootCmd = &cobra.Command{
	Use:   "wrf2fnl [flags] inputfile outputdir",
	Short: "extract FNL-compatible fields from a WRF output time slice",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputFile, outputDir := args[0], args[1]
		if _, err := os.Stat(inputFile); err != nil {
			return fmt.Errorf("input file %s not found", inputFile)
		}

		f, err := wrf2fnl.OpenFile(inputFile)
		if err != nil {
			return err
		}
		if err := f.NormalizeLongitudes(); err != nil {
			return err
		}

		ds, err := wrf2fnl.Extract(f)
		if err != nil {
			return err
		}
		ds.Crop(wrf2fnl.DomainLatMin, wrf2fnl.DomainLatMax,
			wrf2fnl.DomainLonMin, wrf2fnl.DomainLonMax)

		path, err := ds.WriteFile(outputDir, prefix)
		if err != nil {
			return err
		}
		log.Infof("wrote %s", path)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&prefix, "prefix", "p", "",
		"prefix to be prepended to the output filename")
	rootCmd.MarkFlagRequired("prefix")
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
