package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storylab/threadline/analysis"
	"github.com/storylab/threadline/script"
)

// Record is one cached three-stage analysis result. Written once,
// atomically, only when every stage succeeded; read many times. The flat
// layout carries no nested versioning; records missing required fields are
// treated as misses on read.
type Record struct {
	ContentHash      string `json:"content_hash"`
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	ScriptIdentifier string `json:"script_identifier,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// Complete is only ever true in a stored record; enforced at write time
	// so a hit never needs re-validation.
	Complete bool `json:"complete"`

	Discover *analysis.DiscoverOutput `json:"discover"`
	Audit    *analysis.AuditOutput    `json:"audit"`
	Modify   *analysis.ModifyOutput   `json:"modify"`
}

// valid reports whether a decoded record is complete and self-consistent.
// A false result is a read-side miss, never a run failure.
func (r *Record) valid(key string) error {
	if !r.Complete {
		return fmt.Errorf("record not marked complete")
	}
	if r.ContentHash == "" || r.Provider == "" || r.Model == "" {
		return fmt.Errorf("record missing identity fields")
	}
	if r.Discover == nil || r.Audit == nil || r.Modify == nil {
		return fmt.Errorf("record missing stage outputs")
	}
	if Key(r.ContentHash, r.Provider, r.Model) != key {
		return fmt.Errorf("record identity does not match key")
	}
	return nil
}

func (r *Record) marshal() ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// HashScript computes the content hash of a script's canonical JSON form.
func HashScript(s *script.Script) string {
	data, err := json.Marshal(s)
	if err != nil {
		// Script marshalling cannot fail for the model's types; keep the
		// signature simple and hash the error text if it ever does.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key derives the store key from the content hash plus provider and model.
func Key(contentHash, provider, model string) string {
	return contentHash + ":" + provider + ":" + model
}
