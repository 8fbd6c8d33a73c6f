package main

import (
	"context"
	"flag"
	"os"

	"github.com/gautam20feb/jupyterhub/internal/platform/config"
	"github.com/gautam20feb/jupyterhub/internal/tools/hubtoken"
)

func main() {
	cfg, err := hubtoken.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := hubtoken.Run(context.Background(), cfg, os.Stdout); err != nil {
		config.Exitf("mint token: %v", err)
	}
}
