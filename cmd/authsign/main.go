// Command authsign prints an Authorization header value for the launchpad API
// signed by a local wallet key.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"

	"launchpad/cmd/internal/keysource"
	"launchpad/gateway/auth"
)

func main() {
	message := flag.String("message", auth.DefaultMessage, "message the API expects wallets to sign")
	envVar := flag.String("env", "LAUNCHPAD_SIGNER_KEY", "environment variable holding the hex private key")
	headerOnly := flag.Bool("value-only", false, "print only the header value")
	flag.Parse()

	key, err := keysource.NewSource(*envVar).Key()
	if err != nil {
		fmt.Fprintf(os.Stderr, "authsign: %v\n", err)
		os.Exit(1)
	}
	signature, err := auth.SignMessage(*message, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "authsign: %v\n", err)
		os.Exit(1)
	}
	value := auth.AuthorizationValue(crypto.PubkeyToAddress(key.PublicKey), signature)
	if *headerOnly {
		fmt.Println(value)
		return
	}
	fmt.Printf("%s: %s\n", auth.HeaderAuthorization, value)
}
