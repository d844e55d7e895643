// Package canon holds the canonical narrative memory types shared by the
// store and the response pipeline.
package canon

import (
	"fmt"
	"strings"
	"time"
)

// Fact keys. The values are the storage keys used since the first release
// and must not change.
const (
	FactPartner      = "parceiro_atual"
	FactVirgin       = "virgem"
	FactLocation     = "local_cena_atual"
	FactFirstMeeting = "primeiro_encontro"
	FactNSFWOverride = "nsfw_override"
	FactFlirtAllowed = "permitir_flerte"
	FactUserName     = "nome_usuario"
	FactRelationship = "status_relacao"

	FactSceneLock    = "cena_parceiro_ativo"
	FactSceneLockAt  = "cena_parceiro_ativo_ts"
	FactSceneLockTTL = "cena_parceiro_ttl_min"
)

// SceneLockKeys are cleared by a NSFW reset.
var SceneLockKeys = []string{FactSceneLock, FactSceneLockAt, FactSceneLockTTL}

// Meta describes where a fact value came from.
type Meta struct {
	Source string         `json:"source"`
	SetAt  time.Time      `json:"set_at"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMeta stamps a source with the current time.
func NewMeta(source string) Meta {
	return Meta{Source: source, SetAt: time.Now().UTC()}
}

// Fact is one key/value pair of an identity's canonical memory.
type Fact struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
	Meta  Meta   `json:"meta"`
}

// Facts is the decoded fact map of one identity.
type Facts map[string]any

// String returns the value rendered as text, or "" when absent.
func (f Facts) String(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}

// Bool interprets the value as a flag. Strings such as "on", "true", "sim"
// count as true; missing keys return def.
func (f Facts) Bool(key string, def bool) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return def
	}
	switch val := v.(type) {
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "on", "1", "sim", "yes":
			return true
		case "false", "off", "0", "nao", "não", "no":
			return false
		}
	}
	return def
}

// Has reports whether the key is present with a non-nil value.
func (f Facts) Has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}
