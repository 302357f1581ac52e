// dirgen emits a synthetic object table for exercising dcmdir import.
// It builds a randomized patient/study/series/instance hierarchy and
// writes one row per instance, ready to pipe into `dcmdir import`.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/imagetrove/dcmdir/internal/uid"
)

func main() {
	patients := flag.Int("patients", 5, "number of patients")
	studies := flag.Int("studies", 2, "max studies per patient")
	series := flag.Int("series", 3, "max series per study")
	instances := flag.Int("instances", 10, "max instances per series")
	seed := flag.Int64("seed", 0, "random seed, 0 picks one")
	out := flag.String("out", "", "output file, default stdout")
	flag.Parse()

	if *seed == 0 {
		*seed = rand.Int63()
	}
	rng := rand.New(rand.NewSource(*seed))

	w := bufio.NewWriter(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatal(err)
		}
		defer func() { _ = f.Close() }()
		w = bufio.NewWriter(f)
	}
	defer func() { _ = w.Flush() }()

	fmt.Fprintln(w, "PatientID,PatientName,StudyInstanceUID,SeriesInstanceUID,Modality,SOPInstanceUID,ReferencedFileID")

	names := []string{"DOE^JOHN", "DOE^JANE", "ROE^RICHARD", "BLOGGS^JOE", "MUSTERMANN^MAX"}
	modalities := []string{"CT", "MR", "US", "CR", "DX"}

	file := 0
	for p := 0; p < *patients; p++ {
		pid := fmt.Sprintf("PAT%05d", rng.Intn(100000))
		name := names[rng.Intn(len(names))]
		for s := 0; s < 1+rng.Intn(*studies); s++ {
			studyUID := uid.New()
			for se := 0; se < 1+rng.Intn(*series); se++ {
				seriesUID := uid.New()
				mod := modalities[rng.Intn(len(modalities))]
				for i := 0; i < 1+rng.Intn(*instances); i++ {
					file++
					fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,DICOM/IM%06d\n",
						pid, name, studyUID, seriesUID, mod, uid.New(), file)
				}
			}
		}
	}
	fmt.Fprintf(os.Stderr, "generated %d rows (seed %d)\n", file, *seed)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
