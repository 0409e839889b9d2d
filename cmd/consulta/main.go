// Command consulta is a terminal client for the lookup API.
//
//	consulta login <usuario|email> <password>
//	consulta me
//	consulta rut <rut>
//	consulta logout
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"consulta.cl/internal/client"
)

func main() {
	log.SetFlags(0)
	var (
		baseURL   = flag.String("api", envOr("CONSULTA_API_URL", "http://localhost:8080"), "API base URL")
		tokenPath = flag.String("token-file", defaultTokenPath(), "where the session token is kept")
	)
	flag.Parse()

	c, err := client.New(*baseURL, client.WithTokenStore(client.FileTokens{Path: *tokenPath}))
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := run(ctx, c, flag.Args(), os.Stdout); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			log.Fatalf("%s (%d)", apiErr.Message, apiErr.Status)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: consulta login|me|rut|logout")
	}
	switch args[0] {
	case "login":
		if len(args) != 3 {
			return errors.New("usage: consulta login <usuario|email> <password>")
		}
		if _, err := c.Login(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintln(out, "sesión iniciada")
		return nil
	case "me":
		me, err := c.Me(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, me)
	case "rut":
		if len(args) != 2 {
			return errors.New("usage: consulta rut <rut>")
		}
		cust, err := c.LookupCustomer(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(out, cust)
	case "logout":
		return c.Logout()
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".consulta-token"
	}
	return filepath.Join(dir, "consulta", "token")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
