package main

import (
	"flag"
	"fmt"
	"os"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/store"
)

// Offline keyspace dump for debugging a database that is not being
// served. Run it against a copy; Pebble takes an exclusive lock.
func main() {
	var (
		dbPath = flag.String("db", "", "path to the Pebble database")
		prefix = flag.String("prefix", "", "only dump keys with this prefix (e.g. conv:lobby:)")
		values = flag.Bool("values", false, "print values as well as keys")
	)
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.InitWithLevel("warn")

	st, err := store.Open(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	var n int
	err = st.Scan(*prefix, func(key string, value []byte) error {
		n++
		if *values {
			fmt.Printf("%s\t%s\n", key, value)
		} else {
			fmt.Println(key)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}
