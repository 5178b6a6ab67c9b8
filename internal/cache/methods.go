package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// MethodCacheability defines how a method should be cached
type MethodCacheability int

const (
	// NotCacheable - method should never be cached
	NotCacheable MethodCacheability = iota
	// AlwaysCacheable - result is immutable once confirmed
	AlwaysCacheable
	// Volatile - result changes with every block or mempool update
	Volatile
)

var methodCacheRules = map[string]MethodCacheability{
	"blockchain.transaction.get":         AlwaysCacheable,
	"blockchain.transaction.get_merkle":  AlwaysCacheable,
	"blockchain.transaction.id_from_pos": AlwaysCacheable,
	"blockchain.block.header":            AlwaysCacheable,
	"blockchain.block.headers":           AlwaysCacheable,

	"blockchain.scripthash.get_balance": Volatile,
	"blockchain.scripthash.get_history": Volatile,
	"blockchain.scripthash.get_mempool": Volatile,
	"blockchain.scripthash.listunspent": Volatile,
	"blockchain.estimatefee":            Volatile,
	"blockchain.relayfee":               Volatile,
}

// Rules decides which requests are served from the cache
type Rules struct {
	includeVolatile bool
	disabled        map[string]bool
}

// NewRules creates cacheability rules. Volatile methods are cached only when
// includeVolatile is set; disabled methods are never cached.
func NewRules(includeVolatile bool, disabled []string) *Rules {
	r := &Rules{
		includeVolatile: includeVolatile,
		disabled:        make(map[string]bool, len(disabled)),
	}
	for _, m := range disabled {
		r.disabled[m] = true
	}
	return r
}

// Cacheability returns the rule for a method
func Cacheability(method string) MethodCacheability {
	return methodCacheRules[method]
}

// IsCacheable checks if a method's results may be cached
func (r *Rules) IsCacheable(method string) bool {
	if r.disabled[method] {
		return false
	}

	switch Cacheability(method) {
	case AlwaysCacheable:
		return true
	case Volatile:
		return r.includeVolatile
	default:
		return false
	}
}

// GenerateCacheKey creates a unique cache key for a request
func GenerateCacheKey(method string, params []any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = nil
	}
	hash := sha256.Sum256(normalizeParams(raw))
	return method + ":" + hex.EncodeToString(hash[:16])
}

// normalizeParams normalizes JSON params for consistent hashing
func normalizeParams(params json.RawMessage) []byte {
	if len(params) == 0 || string(params) == "null" {
		return []byte("[]")
	}

	var data interface{}
	if err := json.Unmarshal(params, &data); err != nil {
		return params
	}

	result, err := json.Marshal(normalizeValue(data))
	if err != nil {
		return params
	}
	return result
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeMap(val)
	case []interface{}:
		return normalizeArray(val)
	case string:
		// scripthashes and txids are hex
		return strings.ToLower(val)
	default:
		return val
	}
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make(map[string]interface{}, len(m))
	for _, k := range keys {
		result[k] = normalizeValue(m[k])
	}
	return result
}

func normalizeArray(arr []interface{}) []interface{} {
	result := make([]interface{}, len(arr))
	for i, v := range arr {
		result[i] = normalizeValue(v)
	}
	return result
}
