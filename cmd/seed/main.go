// seed upserts a development principal and prints a freshly signed Mini App initData string for it,
// ready to POST to /auth/login. It refuses to run against prod.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"tma-auth/internal/config"
	"tma-auth/internal/db"
	principaldomain "tma-auth/internal/principal/domain"
	principalrepo "tma-auth/internal/principal/repository"
	"tma-auth/internal/telegram"
)

func main() {
	userID := flag.Int64("user", 100000001, "Telegram user id of the dev principal")
	username := flag.String("username", "dev_user", "Telegram username of the dev principal")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if cfg.Env == config.EnvProd {
		fmt.Fprintln(os.Stderr, "seed: refusing to run with APP_ENV=prod")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(cfg.Environment.DSN())
	if err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}
	defer conn.Close()

	now := time.Now().UTC()
	p := &principaldomain.Principal{
		ID:          strconv.FormatInt(*userID, 10),
		FirstName:   "Dev",
		Username:    *username,
		LastLoginAt: now,
	}
	if err := principalrepo.NewPostgresRepository(conn).Upsert(ctx, p); err != nil {
		fmt.Fprintln(os.Stderr, "upsert principal:", err)
		os.Exit(1)
	}

	initData, err := signedInitData(cfg.Environment.BotToken.Value(), p, now)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "seed: principal %s ready in schema %s\n", p.ID, cfg.Environment.DatabaseSchema)
	fmt.Println(initData)
}

// signedInitData builds a webapp-scheme initData string for p signed with botToken.
func signedInitData(botToken string, p *principaldomain.Principal, at time.Time) (string, error) {
	v, err := telegram.NewVerifier(botToken, telegram.SchemeWebApp, 0)
	if err != nil {
		return "", err
	}
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return "", err
	}
	user, err := json.Marshal(struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		Username  string `json:"username,omitempty"`
	}{id, p.FirstName, p.Username})
	if err != nil {
		return "", err
	}
	fields := map[string]string{
		"auth_date": strconv.FormatInt(at.Unix(), 10),
		"user":      string(user),
	}
	fields["hash"] = v.Sign(fields)

	q := url.Values{}
	for k, val := range fields {
		q.Set(k, val)
	}
	return q.Encode(), nil
}
