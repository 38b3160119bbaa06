// docstore CLI: a local, subcommand-driven client for the embeddable
// document store, in the spirit of tinySQL's cmd/tinysql dispatcher.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/nainya/docstore/docstore"
	"github.com/nainya/docstore/internal/config"
	"github.com/nainya/docstore/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "docstore: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		printUsage()
		return nil
	}

	fs := flag.NewFlagSet("docstore", flag.ContinueOnError)
	dbPath := fs.String("db", "docstore.db", "database file path")
	cfgPath := fs.String("config", "", "YAML configuration file (optional)")
	pretty := fs.Bool("pretty", true, "pretty-print log output")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	logger.InitGlobalLogger(logger.Config{Level: "info", Pretty: *pretty})

	cfg := docstore.DefaultConfig()
	if *cfgPath != "" {
		_, loaded, err := config.Load(*cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	db, err := docstore.Open(*dbPath, cfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", *dbPath, err)
	}
	defer db.Close()

	rest := fs.Args()
	switch args[0] {
	case "write":
		return cmdWrite(db, rest)
	case "get":
		return cmdGet(db, rest)
	case "search":
		return cmdSearch(db, rest)
	case "delete":
		return cmdDelete(db, rest)
	case "bind":
		return cmdBind(db, rest)
	case "stat":
		return cmdStat(db, rest)
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: docstore <command> [-db path] [-config file] [args]

commands:
  write  <path> <file>     store file's bytes at path
  get    <path>            print the document at path to stdout
  search <prefix>          list every live path starting with prefix
  delete <path>            unbind path from its document
  bind   <path> <newpath>  bind an additional alias path
  stat                     print checksum and page cache stats`)
}

func cmdWrite(db *docstore.DB, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write <path> <file>")
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	id, err := db.WriteDocument(args[0], data)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func cmdGet(db *docstore.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <path>")
	}
	data, err := db.Get(args[0])
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func cmdSearch(db *docstore.DB, args []string) error {
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}
	paths, err := db.SearchPaths(prefix)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println(p)
	}
	return nil
}

func cmdDelete(db *docstore.DB, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <path>")
	}
	return db.DeleteByPath(args[0])
}

func cmdBind(db *docstore.DB, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: bind <path> <newpath>")
	}
	return db.BindAddonPath(args[0], args[1])
}

func cmdStat(db *docstore.DB, _ []string) error {
	stats := db.GetCacheStats()
	fmt.Printf("checksum: %s\n", db.GetChecksum())
	fmt.Printf("page cache: %d hits, %d misses\n", stats.Hits, stats.Misses)
	return nil
}
