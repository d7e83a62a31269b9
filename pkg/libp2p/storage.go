package libp2p

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
)

const identityFileName = "identity.key"

// SaveIdentity saves the private key to the data directory.
func SaveIdentity(key crypto.PrivKey, dataDir string) error {
	if dataDir == "" {
		return errors.New("no data directory")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}

	keyBytes, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, identityFileName), keyBytes, 0600)
}

// LoadIdentity loads the private key from the data directory.
// If the key doesn't exist, it generates a new one and saves it.
func LoadIdentity(dataDir string) (crypto.PrivKey, error) {
	if dataDir == "" {
		return nil, errors.New("no data directory")
	}
	keyPath := filepath.Join(dataDir, identityFileName)

	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, err
		}
		if err := SaveIdentity(privKey, dataDir); err != nil {
			return nil, err
		}
		return privKey, nil
	}

	key, err := crypto.UnmarshalPrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("corrupt identity %s: %w", keyPath, err)
	}
	return key, nil
}
