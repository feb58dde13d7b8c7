// cmd/gentoken issues a development JWT for a cashier or a terminal.
// Usage: JWT_SECRET=... go run ./cmd/gentoken -user cashier-1 -store store-1 -role CASHIER
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"possync/internal/config"
	"possync/internal/middleware"
)

func main() {
	user := flag.String("user", "cashier-1", "user id (token subject)")
	store := flag.String("store", "store-1", "store id the token is scoped to")
	role := flag.String("role", middleware.RoleCashier, "CASHIER | MANAGER | ADMIN")
	ttl := flag.Duration("ttl", 0, "token lifetime (default JWT_EXPIRATION_HOURS)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *ttl == 0 {
		*ttl = time.Duration(cfg.JWTExpirationHours) * time.Hour
	}

	tok, err := middleware.IssueToken(cfg.JWTSecret, *user, *store, *role, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
