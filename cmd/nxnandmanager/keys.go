package main

import (
	"encoding/hex"
	"fmt"

	"github.com/minkione/NxNandManager/xtscipher"
)

// parseKeyFlags decodes the --crypto-key/--tweak-key hex strings required
// by dump/restore's decrypt and encrypt modes. Neither flag is consulted in
// raw mode, so both may be empty there.
func parseKeyFlags(cryptoHex, tweakHex string) (crypto, tweak [xtscipher.KeySize]byte, err error) {
	if err := decodeKey(&crypto, "crypto-key", cryptoHex); err != nil {
		return crypto, tweak, err
	}
	if err := decodeKey(&tweak, "tweak-key", tweakHex); err != nil {
		return crypto, tweak, err
	}
	return crypto, tweak, nil
}

func decodeKey(dst *[xtscipher.KeySize]byte, flagName, hexStr string) error {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return fmt.Errorf("--%s: invalid hex: %w", flagName, err)
	}
	if len(raw) != xtscipher.KeySize {
		return fmt.Errorf("--%s: expected %d bytes, got %d", flagName, xtscipher.KeySize, len(raw))
	}
	copy(dst[:], raw)
	return nil
}
