package main

import (
	"flag"
	"log"

	"github.com/danmuck/someipd/internal/config"
)

const defaultPath = "cmd/someipd/config.toml"

func main() {
	kind := flag.String("kind", "tcp", "config kind: tcp|udp")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadDaemonConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s (%d receivers)", cfg.Protocol, *input, len(cfg.Receivers))
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
