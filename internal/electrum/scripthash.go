package electrum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/btcsuite/btcutil/bech32"
)

// Base58 version bytes
const (
	versionP2PKH        = 0x00
	versionP2SH         = 0x05
	versionTestnetP2PKH = 0x6f
	versionTestnetP2SH  = 0xc4
)

// Script opcodes
const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqual       = 0x87
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	op0           = 0x00
)

// ScriptHash returns the Electrum scripthash of an output script: the
// SHA-256 of the script with its bytes reversed, hex encoded.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:])
}

// ScriptFromAddress builds the output script for a P2PKH, P2SH, P2WPKH or P2WSH address
func ScriptFromAddress(addr string) ([]byte, error) {
	addr = strings.TrimSpace(addr)
	lower := strings.ToLower(addr)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1") {
		return segwitScript(addr)
	}

	payload, version, err := base58.CheckDecode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(payload) != 20 {
		return nil, fmt.Errorf("invalid address %q: payload is %d bytes", addr, len(payload))
	}

	switch version {
	case versionP2PKH, versionTestnetP2PKH:
		script := make([]byte, 0, 25)
		script = append(script, opDup, opHash160, 20)
		script = append(script, payload...)
		return append(script, opEqualVerify, opCheckSig), nil
	case versionP2SH, versionTestnetP2SH:
		script := make([]byte, 0, 23)
		script = append(script, opHash160, 20)
		script = append(script, payload...)
		return append(script, opEqual), nil
	default:
		return nil, fmt.Errorf("invalid address %q: unknown version byte 0x%02x", addr, version)
	}
}

// segwitScript handles version 0 witness programs
func segwitScript(addr string) ([]byte, error) {
	_, data, err := bech32.Decode(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(data) < 1 {
		return nil, fmt.Errorf("invalid address %q: empty data", addr)
	}

	witnessVersion := data[0]
	if witnessVersion != 0 {
		return nil, fmt.Errorf("invalid address %q: witness version %d not supported", addr, witnessVersion)
	}

	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("invalid address %q: witness program is %d bytes", addr, len(program))
	}

	script := make([]byte, 0, 2+len(program))
	script = append(script, op0, byte(len(program)))
	return append(script, program...), nil
}

// ScriptHashFromAddress returns the Electrum scripthash for addr
func ScriptHashFromAddress(addr string) (string, error) {
	script, err := ScriptFromAddress(addr)
	if err != nil {
		return "", err
	}
	return ScriptHash(script), nil
}

// IsScriptHash reports whether s looks like a scripthash (64 hex characters)
func IsScriptHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
