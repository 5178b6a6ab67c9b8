package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"electrumbatch/internal/batch"
	"electrumbatch/internal/electrum"
	"electrumbatch/internal/jsonrpc"
	"electrumbatch/internal/loop"
	"electrumbatch/internal/session"
)

// fakeSession answers by method; scripthashes listed in broken get an item error
type fakeSession struct {
	broken map[string]bool
}

func (s *fakeSession) Start(context.Context) error { return nil }
func (s *fakeSession) Stop() error                 { return nil }
func (s *fakeSession) IsConnected() bool           { return true }
func (s *fakeSession) SendBatch(bool) session.Batch {
	return &fakeBatch{s: s}
}

type fakeBatch struct {
	s       *fakeSession
	methods []string
	params  [][]any
}

func (b *fakeBatch) AddRequest(method string, params []any) {
	b.methods = append(b.methods, method)
	b.params = append(b.params, params)
}

func (b *fakeBatch) Len() int { return len(b.methods) }

func (b *fakeBatch) Commit(context.Context) ([]*jsonrpc.Response, error) {
	out := make([]*jsonrpc.Response, len(b.methods))
	for i, m := range b.methods {
		id := jsonrpc.NewIDInt(int64(i))
		if b.s.broken[b.params[i][0].(string)] {
			out[i] = jsonrpc.NewErrorResponse(id, jsonrpc.NewError(jsonrpc.CodeBadRequest, "bad scripthash"))
			continue
		}
		switch m {
		case electrum.MethodGetBalance:
			out[i] = jsonrpc.NewResponseRaw(id, json.RawMessage(`{"confirmed":1000,"unconfirmed":0}`))
		case electrum.MethodListUnspent:
			out[i] = jsonrpc.NewResponseRaw(id, json.RawMessage(`[{"tx_hash":"ab","tx_pos":1,"height":800000,"value":1000}]`))
		default:
			out[i] = jsonrpc.NewResponseRaw(id, json.RawMessage(`[]`))
		}
	}
	return out, nil
}

type testRuntime struct {
	sess session.Session
	lp   *loop.Loop
}

func (r *testRuntime) Session() session.Session { return r.sess }
func (r *testRuntime) Loop() *loop.Loop         { return r.lp }

const p2pkhHash = "8b01df4e368ea28f8dc0423bcf7a4923e3a12d307c875e47a0cfbf90b5c39161"

func TestParseTargets(t *testing.T) {
	sh := "abe51e78fc13a23889f49922cb5917b9c5f2a8f66122aea0d728524f1493d133"
	targets, err := parseTargets([]byte(`["1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", " ` + sh + ` ", "` + p2pkhHash + `"]`))
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.Equal(t, p2pkhHash, targets[0].ScriptHash)
	assert.Equal(t, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", targets[0].Input)
	assert.Equal(t, sh, targets[1].ScriptHash)

	_, err = parseTargets([]byte(`["not-an-address"]`))
	assert.Error(t, err)

	_, err = parseTargets([]byte(`{"a": 1}`))
	assert.Error(t, err)
}

func TestLookupsWritten(t *testing.T) {
	good := p2pkhHash
	bad := "abe51e78fc13a23889f49922cb5917b9c5f2a8f66122aea0d728524f1493d133"

	lp := loop.New(loop.Config{}, zerolog.Nop())
	lp.Start()
	defer lp.Stop()

	rt := &testRuntime{sess: &fakeSession{broken: map[string]bool{bad: true}}, lp: lp}
	client := batch.New(rt, batch.Options{BatchLimit: 4}, zerolog.Nop())

	var lookups []*lookup
	err := client.Do(context.Background(), func(c *batch.Client) error {
		for _, sh := range []string{good, bad} {
			l, err := queueLookup(c, target{Input: sh, ScriptHash: sh})
			if err != nil {
				return err
			}
			lookups = append(lookups, l)
		}
		return nil
	})
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, writeOutputs(dir, lookups, zerolog.Nop()))

	var balances map[string]electrum.Balance
	readFile(t, filepath.Join(dir, balancesFile), &balances)
	assert.Equal(t, map[string]electrum.Balance{good: {Confirmed: 1000}}, balances)

	var unspents map[string][]electrum.UTXO
	readFile(t, filepath.Join(dir, unspentsFile), &unspents)
	assert.Equal(t, map[string][]electrum.UTXO{good: {{TxHash: "ab", TxPos: 1, Height: 800000, Value: 1000}}}, unspents)

	// an empty mempool is not written
	var mempools map[string][]electrum.MempoolTx
	readFile(t, filepath.Join(dir, mempoolsFile), &mempools)
	assert.Empty(t, mempools)

	var failed map[string]map[string]string
	readFile(t, filepath.Join(dir, errorsFile), &failed)
	require.Contains(t, failed, bad)
	assert.Len(t, failed[bad], 3)
	assert.Contains(t, failed[bad][electrum.MethodGetMempool], "bad scripthash")
}

func readFile(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
