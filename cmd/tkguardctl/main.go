package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kr1s57/tkguard/internal/config"
	"github.com/kr1s57/tkguard/internal/usecase/auth"
	"github.com/kr1s57/tkguard/internal/usecase/policyconfig"
)

func usage() {
	fmt.Println("TKGuard - admin tool")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  tkguardctl validate <policy.yaml|policy.json>")
	fmt.Println("  tkguardctl token -user <name> [-role admin|operator|ingest] [-ttl 720h]")
	fmt.Println("")
	fmt.Println("validate prints the canonical JSON of a valid policy, or one line per")
	fmt.Println("rejected field. token signs an API token with JWT_SECRET.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		err = validate(os.Args[2:])
	case "token":
		err = token(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func validate(args []string) error {
	if len(args) != 1 {
		return errors.New("validate takes exactly one file")
	}

	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read policy: %w", err)
	}

	cfg, err := policyconfig.Validate(raw)
	if err != nil {
		var verrs policyconfig.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fmt.Println(fe.String())
			}
			return fmt.Errorf("%d invalid field(s) in %s", len(verrs), args[0])
		}
		return err
	}

	out, err := policyconfig.Serialize(cfg)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	user := fs.String("user", "", "token subject")
	role := fs.String("role", auth.RoleAdmin, "admin, operator or ingest")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}
	switch *role {
	case auth.RoleAdmin, auth.RoleOperator, auth.RoleIngest:
	default:
		return fmt.Errorf("unknown role %q", *role)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	svc, err := auth.NewService(cfg.JWT.Secret)
	if err != nil {
		return err
	}

	tokenString, expiresAt, err := svc.IssueToken(*user, *role, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(tokenString)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}
