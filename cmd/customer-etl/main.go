// Command customer-etl extracts customers, orders and payments from CSV files,
// joins them into one fact row per payment and appends the rows to a
// relational table.
//
//	customer-etl run      --config configs/pipeline.json
//	customer-etl validate --config configs/pipeline.yaml
//	customer-etl describe
//	customer-etl schedule --config configs/pipeline.json
//
// Connection parts can come from flags or DB_DRIVER, DB_DSN, DB_HOST, DB_PORT,
// DB_NAME, DB_USER and DB_PASSWORD; they override the pipeline file.
package main

import (
	"fmt"
	"os"

	// Every backend is compiled in; the pipeline file picks one.
	_ "customeretl/internal/storage/all"
)

var Version = "dev"

func main() {
	root := newRootCmd(os.Getenv)
	if err := root.Execute(); err != nil {
		fatalf("%v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
