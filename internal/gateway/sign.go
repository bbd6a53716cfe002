package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strings"
)

// Sign computes the gateway request signature: an MD5 hex digest of the
// API key, the request parameters sorted by name and concatenated as
// name+value, and the HTTP method. The digest goes in the Authorization
// header as-is.
func Sign(apiKey string, params map[string]string, method string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(apiKey)
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteString(params[key])
	}
	builder.WriteString(method)

	sum := md5.Sum([]byte(builder.String()))
	return hex.EncodeToString(sum[:])
}
