// Command keystore-init imports wallet.json key material into a badger
// keystore so the bot can run with -keystore and keep wallet.json off the
// host entirely.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/copybot/gosol/pkg/config"
	"github.com/copybot/gosol/solana/keys"
)

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func main() {
	var (
		walletPath = flag.String("wallet", "config/wallet.json", "wallet file to import")
		storePath  = flag.String("keystore", getenv("COPYBOT_KEYSTORE", ""), "keystore directory to create or extend")
		name       = flag.String("name", "wallet", "name to store the keypair under")
	)
	flag.Parse()

	if *storePath == "" {
		fatal(fmt.Errorf("keystore path is required (-keystore or COPYBOT_KEYSTORE)"))
	}

	w, err := config.LoadWallet(*walletPath)
	if err != nil {
		fatal(err)
	}
	var kp *keys.Keypair
	if len(w.Keypair) > 0 {
		kp, err = keys.FromIntArray(w.Keypair)
	} else {
		kp, err = keys.FromBase58(w.PrivateKey)
	}
	if err != nil {
		fatal(err)
	}
	if w.PublicKey != "" && w.PublicKey != kp.PublicKey() {
		fatal(fmt.Errorf("wallet: public_key %s does not match keypair %s", w.PublicKey, kp.PublicKey()))
	}

	var enc []byte
	if v := strings.TrimSpace(os.Getenv("COPYBOT_KEYSTORE_KEY")); v != "" {
		enc, err = keys.ParseKey(v)
		if err != nil {
			fatal(err)
		}
	}

	store, err := keys.OpenStore(keys.StoreOptions{Path: *storePath, EncryptionKey: enc})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if err := store.PutKeypair(*name, kp); err != nil {
		fatal(err)
	}
	fmt.Printf("imported %s as %q into %s\n", kp.PublicKey(), *name, *storePath)
}
