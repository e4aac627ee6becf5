// Command scanworker runs one bubble sheet through the detection
// pipeline and prints the result as JSON on stdout. Diagnostics go to
// stderr so the output stays machine-readable.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	"omr-scanner/internal/config"
	"omr-scanner/internal/imageio"
	"omr-scanner/internal/omr"
	"omr-scanner/internal/pipeline"
	"omr-scanner/internal/template"
	"omr-scanner/internal/version"
)

func main() {
	cfg := config.Load()

	imagePath := flag.String("image", "", "path to the scan image (required)")
	templateID := flag.String("template", "", "template id (required)")
	templateDir := flag.String("templates", cfg.TemplateDir, "directory of template JSON files")
	scanID := flag.String("scan", "", "scan id (default: random)")
	strict := flag.Bool("strict", cfg.Strict, "fail on quality floors instead of warning")
	debug := flag.Bool("debug", cfg.Debug, "log stage diagnostics to stderr")
	debugDir := flag.String("debug-dir", cfg.DebugDir, "write annotated overlay PNGs here")
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	list := flag.Bool("list", false, "list available templates and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	log.SetFlags(0)
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	store := template.NewStore(*templateDir)

	if *list {
		ids, err := store.List()
		if err != nil {
			log.Fatalf("scanworker: %v", err)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return
	}

	if *imagePath == "" || *templateID == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *scanID == "" {
		*scanID = uuid.NewString()
	}

	opts := pipeline.DefaultOptions()
	opts.Debug = *debug
	opts.DebugDir = *debugDir

	pl := pipeline.New(store, imageio.FileSource{Root: cfg.ImageRoot}, opts)
	result := pl.Process(omr.ScanRequest{
		ScanID:        *scanID,
		ImageRef:      *imagePath,
		TemplateID:    *templateID,
		StrictQuality: *strict,
	})

	var out []byte
	var err error
	if *pretty {
		out, err = json.MarshalIndent(result, "", "  ")
	} else {
		out, err = json.Marshal(result)
	}
	if err != nil {
		log.Fatalf("scanworker: encoding result: %v", err)
	}
	fmt.Println(string(out))

	if result.Status == omr.StatusFailed {
		os.Exit(1)
	}
}
