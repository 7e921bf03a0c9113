package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pacvole "github.com/loolooyyyy/pac-vole"
	"github.com/loolooyyyy/pac-vole/internal/shared/config"
	"github.com/loolooyyyy/pac-vole/internal/shared/logger"
	"github.com/loolooyyyy/pac-vole/internal/shared/types"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-configdir dir] [url ...]\n", os.Args[0])
		fmt.Fprintln(flag.CommandLine.Output(), "Prints the proxy decision for each URL; reads URLs from stdin when none are given.")
		flag.PrintDefaults()
	}
	flag.Parse()

	iniPath := filepath.Join(*configDir, "pacvole.ini")

	// 1. Load pacvole.ini
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 2. Logger
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 3. Build the selector chain
	sel, err := pacvole.New(pacvole.Options{ConfigFile: iniPath})
	if err != nil {
		logger.Fatal().Err(err).Msgf("Failed to build selector from '%s'", iniPath)
	}

	if flag.NArg() > 0 {
		for _, raw := range flag.Args() {
			printDecision(os.Stdout, sel, raw)
		}
		return
	}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			printDecision(os.Stdout, sel, line)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to read URLs from stdin")
	}
}

func printDecision(w io.Writer, sel *pacvole.Selector, raw string) {
	d, err := sel.Select(raw)
	if err != nil {
		logger.Warn().Err(err).Str("url", raw).Msg("Selection failed.")
		fmt.Fprintf(w, "%s\tDIRECT\n", raw)
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", raw, d.String())
}
