// Command authkit inspects and manages stored credentials from a shell.
//
// Configuration comes from AUTHKIT_* environment variables, optionally loaded
// from a dotenv file first.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/panyam/authkit"
	"github.com/panyam/authkit/internal/cli"
)

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func main() {
	cfg, err := cli.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		flag.Usage()
		exitf("Error: %v", err)
	}

	if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitf("Error: load %s: %v", cfg.EnvFile, err)
	}

	sdkCfg, err := authkit.LoadConfig()
	if err != nil {
		exitf("Error: %v", err)
	}
	sdk, err := authkit.New(sdkCfg)
	if err != nil {
		exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := cli.Run(ctx, cfg, sdk, os.Stdin, os.Stdout); err != nil {
		exitf("Error: %v", err)
	}
}
