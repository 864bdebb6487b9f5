package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/litimahmed/universal-hub/pkg/cryptox"
	"github.com/litimahmed/universal-hub/pkg/jwtx"
)

// LoadSigner reads the Ed25519 signing key from path, generating and
// writing one when the file does not exist yet. An empty path yields an
// in-memory key: every token dies with the process.
func LoadSigner(path string, logger *slog.Logger) (*jwtx.EdDSASigner, error) {
	var (
		pem []byte
		err error
	)

	switch {
	case path == "":
		logger.Warn("no signing key file configured; tokens will not survive a restart")
		pem, err = cryptox.GenerateEd25519Key()
	default:
		pem, err = os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("generating signing key", "path", path)
			pem, err = cryptox.GenerateEd25519Key()
			if err == nil {
				err = os.WriteFile(path, pem, 0o600)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	// The kid only has to be stable for one key, so derive it from the key.
	kid := cryptox.FingerprintToken(string(pem))[:12]

	signer, err := jwtx.NewSignerEdDSA(kid, pem)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}
	return signer, nil
}
