// Command beacon-link mints signed scan links offline from the signing
// secret, e.g. to print on a door QR code.  It can also mint a short-lived
// bearer token for testing against a dev server.
//
//	beacon-link -code VAULT-42 -ttl 24h -kind door -base https://example.com
//	beacon-link -bearer user-1
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/beacon-signal-engine/internal/service"
	"github.com/iliyamo/beacon-signal-engine/internal/token"
	"github.com/iliyamo/beacon-signal-engine/internal/utils"
)

func main() {
	_ = godotenv.Load()

	code := flag.String("code", "", "beacon code to link to")
	ttl := flag.Duration("ttl", 15*time.Minute, "link lifetime")
	kind := flag.String("kind", "", "optional link kind")
	base := flag.String("base", os.Getenv("PUBLIC_BASE_URL"), "public base URL prepended to the path")
	bearerFor := flag.String("bearer", "", "mint a bearer token for this user id instead of a link")
	flag.Parse()

	out := json.NewEncoder(os.Stdout)
	out.SetIndent("", "  ")

	if *bearerFor != "" {
		tok, err := utils.NewAccessToken(os.Getenv("JWT_SECRET"), *bearerFor, *ttl)
		if err != nil {
			log.Fatalf("bearer: %v (is JWT_SECRET set?)", err)
		}
		_ = out.Encode(tok)
		return
	}

	if strings.TrimSpace(*code) == "" || *ttl <= 0 {
		flag.Usage()
		os.Exit(2)
	}
	secret := os.Getenv("BEACON_SIGNING_SECRET")
	if secret == "" {
		log.Fatal("missing required env var: BEACON_SIGNING_SECRET")
	}

	link, err := service.SignLink(token.NewHMACSigner(secret), *code, *kind, time.Now().Add(*ttl), *base)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	if err := out.Encode(link); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
