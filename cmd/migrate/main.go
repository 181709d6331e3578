// migrate applies the embedded SQL migrations to the environment's schema; go run ./cmd/migrate -direction up.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tma-auth/internal/config"
	"tma-auth/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	env := cfg.Environment
	if err := migrate.Run(context.Background(), env.DSN(), env.DatabaseSchema, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	fmt.Printf("migrate %s: schema %s is current\n", *direction, env.DatabaseSchema)
}
