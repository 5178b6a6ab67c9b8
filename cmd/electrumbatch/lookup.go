package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"electrumbatch/internal/batch"
	"electrumbatch/internal/electrum"
)

// Output file names
const (
	balancesFile = "balances.json"
	unspentsFile = "unspents.json"
	mempoolsFile = "mempools.json"
	errorsFile   = "errors.json"
)

// target is one input entry resolved to its scripthash
type target struct {
	Input      string
	ScriptHash string
}

// lookup holds the three requests queued for one target
type lookup struct {
	target  target
	balance *batch.Request
	unspent *batch.Request
	mempool *batch.Request
}

// readTargets reads a JSON array of scripthashes or addresses. Duplicates are dropped.
func readTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return parseTargets(data)
}

func parseTargets(data []byte) ([]target, error) {
	var inputs []string
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	var err error
	seen := make(map[string]bool, len(inputs))
	targets := make([]target, 0, len(inputs))
	for i, in := range inputs {
		in = strings.TrimSpace(in)
		sh := strings.ToLower(in)
		if !electrum.IsScriptHash(sh) {
			sh, err = electrum.ScriptHashFromAddress(in)
			if err != nil {
				return nil, fmt.Errorf("input %d (%q): %w", i, in, err)
			}
		}
		if seen[sh] {
			continue
		}
		seen[sh] = true
		targets = append(targets, target{Input: in, ScriptHash: sh})
	}
	return targets, nil
}

func queueLookup(c *batch.Client, t target) (*lookup, error) {
	l := &lookup{target: t}
	var err error
	if l.balance, err = c.GetBalance(t.ScriptHash); err != nil {
		return nil, err
	}
	if l.unspent, err = c.ListUnspent(t.ScriptHash); err != nil {
		return nil, err
	}
	if l.mempool, err = c.GetMempool(t.ScriptHash); err != nil {
		return nil, err
	}
	return l, nil
}

// collect splits resolved results and per-method errors, keyed by scripthash.
// Empty results are left out.
func collect(lookups []*lookup) (balances, unspents, mempools map[string]json.RawMessage, failed map[string]map[string]string) {
	balances = make(map[string]json.RawMessage, len(lookups))
	unspents = make(map[string]json.RawMessage, len(lookups))
	mempools = make(map[string]json.RawMessage, len(lookups))
	failed = make(map[string]map[string]string)

	add := func(dst map[string]json.RawMessage, sh string, req *batch.Request) {
		raw, err := req.Result()
		if err != nil {
			if failed[sh] == nil {
				failed[sh] = make(map[string]string)
			}
			failed[sh][req.Method] = err.Error()
			return
		}
		if isEmpty(raw) {
			return
		}
		dst[sh] = raw
	}

	for _, l := range lookups {
		sh := l.target.ScriptHash
		add(balances, sh, l.balance)
		add(unspents, sh, l.unspent)
		add(mempools, sh, l.mempool)
	}
	return balances, unspents, mempools, failed
}

func isEmpty(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", "[]", "{}":
		return true
	}
	return false
}

func writeOutputs(dir string, lookups []*lookup, logger zerolog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	balances, unspents, mempools, failed := collect(lookups)
	files := []struct {
		name  string
		value any
	}{
		{balancesFile, balances},
		{unspentsFile, unspents},
		{mempoolsFile, mempools},
		{errorsFile, failed},
	}

	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.value); err != nil {
			return err
		}
	}

	logger.Info().
		Int("balances", len(balances)).
		Int("unspents", len(unspents)).
		Int("mempools", len(mempools)).
		Int("withErrors", len(failed)).
		Str("dir", dir).
		Msg("results written")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
