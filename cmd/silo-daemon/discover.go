package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/EternisAI/silo-hub/internal/discovery"
	"github.com/spf13/viper"
)

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", config.Discovery.Timeout, "How long to browse for a hub")
	save := fs.Bool("save", false, "Write the discovered hub URL to the config file")
	configPath := fs.String("config", "", "Config file to update with --save (default: the loaded application.yaml)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *timeout <= 0 {
		*timeout = defaultDiscoveryTimeout
	}

	url, ok := discovery.Discover(context.Background(), *timeout)
	if !ok {
		return fmt.Errorf("no hub found within %s", *timeout)
	}

	fmt.Println("Hub found:", url)

	if !*save {
		return nil
	}

	path := *configPath
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	if path == "" {
		path = "application.yaml"
	}
	if err := saveHubURLToConfig(path, url); err != nil {
		return err
	}
	fmt.Println("Saved to", path)
	return nil
}
