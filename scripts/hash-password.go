package main

import (
	"fmt"
	"os"

	"github.com/turbotransfer/host/internal/util"
)

// Prints a bcrypt hash for HOST_TOKEN_HASH. Without an argument a random
// token is generated and printed first; remote host consoles send it as
// X-Host-Token.
func main() {
	if len(os.Args) > 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go [token]\n")
		os.Exit(1)
	}

	token := ""
	if len(os.Args) == 2 {
		token = os.Args[1]
	} else {
		generated, err := util.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = generated
		fmt.Printf("X-Host-Token: %s\n", token)
	}

	hash, err := util.HashPassword(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("HOST_TOKEN_HASH=%s\n", hash)
}
