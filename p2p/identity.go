package p2p

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/natefinch/atomic"
)

const keyFilename = "p2p.key"

type identityInfo struct {
	Key []byte `json:"key"`
	ID  string `json:"id"`
}

func identityPath(dir string) string {
	return filepath.Join(dir, keyFilename)
}

func readIdentity(dir string) (*identityInfo, error) {
	data, err := os.ReadFile(identityPath(dir))
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", dir, err)
	}
	var info identityInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", dir, err)
	}
	return &info, nil
}

// IdentityInfoFromDir returns the peer id stored in the directory.
func IdentityInfoFromDir(dir string) (peer.ID, error) {
	info, err := readIdentity(dir)
	if err != nil {
		return "", err
	}
	return peer.Decode(info.ID)
}

// EnsureIdentity loads the private key from the directory or generates and persists
// a new one. The file is replaced atomically, so a crash never leaves a partial key.
func EnsureIdentity(dir string) (crypto.PrivKey, error) {
	info, err := readIdentity(dir)
	switch {
	case err == nil:
		key, err := crypto.UnmarshalPrivateKey(info.Key)
		if err != nil {
			return nil, fmt.Errorf("unmarshal identity key from %s: %w", dir, err)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create identity dir %s: %w", dir, err)
	}
	key, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal identity key: %w", err)
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	data, err := json.Marshal(identityInfo{Key: raw, ID: id.String()})
	if err != nil {
		return nil, fmt.Errorf("encode identity: %w", err)
	}
	if err := atomic.WriteFile(identityPath(dir), bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write identity to %s: %w", dir, err)
	}
	return key, nil
}
