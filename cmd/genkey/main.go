package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/gopherauth/internal/service/token"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error while generating signing key: %v\n", err)
		os.Exit(1)
	}
}

// Write PEM encoded private key to stdout or to file
func run(args []string) error {
	fs := pflag.NewFlagSet("genkey", pflag.ContinueOnError)
	alg := fs.StringP("alg", "a", token.AlgEdDSA, "Signing algorithm (RS256, ES256, EdDSA)")
	out := fs.StringP("out", "o", "", "Output file; stdout if empty")

	if err := fs.Parse(args); err != nil {
		return err
	}

	b, err := token.GenerateKeyPEM(*alg)
	if err != nil {
		return err
	}

	if *out == "" {
		_, err = os.Stdout.Write(b)
		return err
	}

	return os.WriteFile(*out, b, 0o600)
}
