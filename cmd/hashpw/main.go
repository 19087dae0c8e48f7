package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"prodtrack.org/internal/auth"
)

func main() {
	flags := flag.NewFlagSet("hashpw", flag.ExitOnError)
	algorithm := flags.String("algorithm", envOr("PRODTRACK_AUTH_PASSWORD_ALGORITHM", auth.AlgorithmBcrypt), "bcrypt or argon2id")
	cost := flags.Int("cost", 0, "bcrypt cost (library default when 0)")

	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	if err := flags.Parse(os.Args[2:]); err != nil {
		usage()
	}

	opts := []auth.HasherOption{auth.WithAlgorithm(*algorithm)}
	if *cost > 0 {
		opts = append(opts, auth.WithBcryptCost(*cost))
	}
	hasher, err := auth.NewHasher(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hasher: %v\n", err)
		os.Exit(1)
	}

	password, err := readLine()
	if err != nil {
		fmt.Fprintf(os.Stderr, "read password: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "hash":
		encoded, err := hasher.Hash(password)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hash: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(encoded)
	case "verify":
		if flags.NArg() != 1 {
			usage()
		}
		if !hasher.Verify(password, flags.Arg(0)) {
			fmt.Println("verify: MISMATCH")
			os.Exit(1)
		}
		fmt.Println("verify: OK")
	default:
		usage()
	}
}

// readLine reads the password from the first line of stdin.
func readLine() (string, error) {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty password")
	}
	return line, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s hash [-algorithm bcrypt|argon2id] [-cost N] < password\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s verify <encoded-hash> < password\n", os.Args[0])
	os.Exit(2)
}
