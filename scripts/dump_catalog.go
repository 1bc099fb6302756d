//go:build ignore

// Dumps the builtin device catalog to stdout as JSON, or to a file in
// CBOR form for use with archer -catalog.
//
//	go run scripts/dump_catalog.go [-o catalog.cbor]
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"

	"github.com/23skdu/longbow-archer/internal/device"
)

func main() {
	out := flag.String("o", "", "write CBOR catalog to this path instead of JSON to stdout")
	flag.Parse()

	catalog := device.Builtin()

	if *out != "" {
		if err := catalog.SaveCBOR(*out); err != nil {
			log.Fatalf("save catalog: %v", err)
		}
		log.Printf("wrote %d devices to %s", len(catalog.Devices), *out)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(catalog); err != nil {
		log.Fatalf("encode catalog: %v", err)
	}
}
