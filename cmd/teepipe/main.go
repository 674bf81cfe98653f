// Command teepipe merges files of integers, one per line, into a single
// ascending stream on stdout. Each file is read by its own producer and fed
// to its own tee source.
//
//	teepipe [--config config.yml] [--flush-policy on_drain] a.txt b.txt
//
// Inputs given on the command line replace the configured inputs.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kbukum/pipekit/config"
	"github.com/kbukum/pipekit/version"
)

func main() {
	flags := pflag.NewFlagSet(serviceName, pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "config file (searched in standard locations when empty)")
	envFile := flags.String("env-file", "", ".env file (searched in standard locations when empty)")
	policy := flags.String("flush-policy", "", "override pipe.flush_policy: on_arrival or on_drain")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [file ...]\n", serviceName)
		flags.PrintDefaults()
	}
	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return
	}

	var opts []config.LoaderOption
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *envFile != "" {
		opts = append(opts, config.WithEnvFile(*envFile))
	}

	var cfg Config
	if err := config.LoadConfig(serviceName, &cfg, opts...); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
	if *policy != "" {
		cfg.Pipe.FlushPolicy = *policy
	}
	if flags.NArg() > 0 {
		cfg.Inputs = flags.Args()
	}

	if err := run(context.Background(), &cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}
