// Command actionlog-seed drives the demo content through its lifecycle hooks so the
// action log has something to show, and prints credentials for local testing.
//
//	actionlog-seed                      seed the configured store and print a summary
//	actionlog-seed -hash-key s3cret     print a bcrypt hash for AUTH_API_KEYS
//	actionlog-seed -token 42 -name bob  print an HS256 token signed with AUTH_JWT_SECRET
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/godamri/helix-actionlog/app"
	"github.com/godamri/helix-actionlog/audit"
	"github.com/godamri/helix-actionlog/config"
	"github.com/godamri/helix-actionlog/content"
	"github.com/godamri/helix-actionlog/crypto"
	"github.com/godamri/helix-actionlog/log"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config file")
		hashKey    = flag.String("hash-key", "", "print the bcrypt hash of this API key and exit")
		subject    = flag.String("token", "", "print a signed token for this actor id and exit")
		name       = flag.String("name", "", "display name carried by -token")
		roles      = flag.String("roles", "", "comma separated roles carried by -token")
		ttl        = flag.Duration("ttl", time.Hour, "lifetime of -token")
	)
	flag.Parse()

	var err error
	switch {
	case *hashKey != "":
		err = printHash(*hashKey)
	case *subject != "":
		err = printToken(*configPath, *subject, *name, *roles, *ttl)
	default:
		err = seed(*configPath)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "actionlog-seed:", err)
		os.Exit(1)
	}
}

func printHash(key string) error {
	var cfg crypto.HashConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return err
	}
	hash, err := crypto.NewHasher(cfg).Hash(key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func printToken(configPath, subject, name, roles string, ttl time.Duration) error {
	cfg, err := app.NewConfigLoader(configPath).Load()
	if err != nil {
		return err
	}
	signer, err := crypto.NewHMACVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if err != nil {
		return err
	}
	claims := crypto.Claims{PreferredUsername: name}
	claims.Subject = subject
	if roles != "" {
		claims.Roles = strings.Split(roles, ",")
	}
	token, err := signer.Sign(claims, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func seed(configPath string) error {
	cfg, err := app.NewConfigLoader(configPath).Load()
	if err != nil {
		return err
	}
	logger := log.New(cfg.Log).With("service", cfg.ServiceName+"-seed")

	ctx := context.Background()
	svc, err := app.Build(ctx, config.NewContainer(*cfg), nil, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	blog := content.NewService(svc.Hooks, svc.Emitter, logger)
	if err := content.RegisterKinds(svc.Registry, blog); err != nil {
		return err
	}
	if err := content.RegisterHooks(svc.Hooks); err != nil {
		return err
	}

	if err := scenario(ctx, blog); err != nil {
		return err
	}

	if err := svc.Drain(); err != nil {
		return err
	}

	res, err := svc.Query.List(ctx, audit.Filter{}, 1, 50)
	if err != nil {
		return err
	}
	summary := make([]string, 0, len(res.Records))
	for i := range res.Records {
		summary = append(summary, res.Records[i].String())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"total": res.Total, "records": summary})
}

// scenario mirrors a short editorial session: sign-up, posting, discussion, clean-up.
func scenario(ctx context.Context, s *content.Service) error {
	alice, err := s.CreateUser(ctx, "alice", "alice@example.com")
	if err != nil {
		return err
	}
	bob, err := s.CreateUser(ctx, "bob", "bob@example.com")
	if err != nil {
		return err
	}
	if _, err := s.SaveProfile(ctx, alice.ID, "Writes about Go.", "https://alice.example.com"); err != nil {
		return err
	}

	post, err := s.CreateBlog(ctx, alice.ID, "Structured logging with slog", "slog landed in Go 1.21.")
	if err != nil {
		return err
	}
	if _, err := s.UpdateBlog(ctx, post.ID, post.Title, post.Body+" Handlers compose."); err != nil {
		return err
	}

	c, err := s.AddComment(ctx, post.ID, bob.ID, "Great write-up!")
	if err != nil {
		return err
	}
	if _, err := s.UpdateComment(ctx, c.ID, "Great write-up, thanks!", true); err != nil {
		return err
	}

	draft, err := s.CreateBlog(ctx, bob.ID, "Draft", "")
	if err != nil {
		return err
	}
	if _, err := s.AddComment(ctx, draft.ID, alice.ID, "Looking forward to it"); err != nil {
		return err
	}
	if err := s.DeleteBlog(ctx, draft.ID); err != nil {
		return err
	}

	if _, err := s.UpdateUser(ctx, bob.ID, "robert@example.com"); err != nil {
		return err
	}
	return s.DeleteUser(ctx, bob.ID)
}
