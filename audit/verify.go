package audit

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
	"time"
)

// Check statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusWarn = "warn"
)

// Result is the outcome of verifying an exported chain.
type Result struct {
	File       string  `json:"file,omitempty"`
	EntryCount int     `json:"entry_count"`
	Valid      bool    `json:"valid"`
	Checks     []Check `json:"checks"`
	SigNote    string  `json:"signature_note,omitempty"`
}

// Check is a single named verification step.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Counts returns the number of failed and warning checks.
func (r Result) Counts() (failures, warnings int) {
	for _, c := range r.Checks {
		switch c.Status {
		case StatusFail:
			failures++
		case StatusWarn:
			warnings++
		}
	}
	return failures, warnings
}

func (r *Result) add(name, status, detail string) {
	if status == StatusFail {
		r.Valid = false
	}
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: detail})
}

// Verify checks the integrity of an export. The signature is checked only
// when key is non-empty.
func Verify(exp Export, key []byte) Result {
	result := Result{
		EntryCount: len(exp.Entries),
		Valid:      true,
	}
	entries := exp.Entries

	if len(entries) == 0 {
		result.add("empty_chain", StatusPass, "no entries to verify")
		verifySignature(&result, exp, key)
		return result
	}

	// 1. Genesis anchor.
	if entries[0].PrevHash == GenesisHash {
		result.add("genesis_anchor", StatusPass, "")
	} else {
		result.add("genesis_anchor", StatusFail,
			fmt.Sprintf("first entry prev_hash=%s, expected genesis hash", entries[0].PrevHash))
	}

	// 2. Chain continuity.
	chainDetail := ""
	for i := 1; i < len(entries); i++ {
		expected := ChainHash(entries[i-1])
		if entries[i].PrevHash != expected {
			chainDetail = fmt.Sprintf("entry %d (id=%s) has prev_hash=%s but expected %s (computed from entry %d)",
				i, entries[i].ID, entries[i].PrevHash, expected, i-1)
			break
		}
	}
	if chainDetail == "" {
		result.add("chain_continuity", StatusPass, fmt.Sprintf("all %d entries link correctly", len(entries)))
	} else {
		result.add("chain_continuity", StatusFail, chainDetail)
	}

	// 3. Head covers the last entry, so truncation is detectable.
	if last := ChainHash(entries[len(entries)-1]); exp.Head == last {
		result.add("head_matches", StatusPass, "")
	} else {
		result.add("head_matches", StatusFail, fmt.Sprintf("head=%s, last entry hashes to %s", exp.Head, last))
	}

	// 4. No duplicate IDs and strictly increasing order.
	seen := make(map[string]int, len(entries))
	idDetail := ""
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			idDetail = fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID)
			break
		}
		if i > 0 && e.ID < entries[i-1].ID {
			idDetail = fmt.Sprintf("entry %d (id=%s) sorts before entry %d", i, e.ID, i-1)
			break
		}
		seen[e.ID] = i
	}
	if idDetail == "" {
		result.add("ordered_ids", StatusPass, "")
	} else {
		result.add("ordered_ids", StatusFail, idDetail)
	}

	// 5. Monotonic timestamps. Clock skew is a warning, not a failure.
	tsDetail := ""
	allParsed := true
	var prevTime time.Time
	for i, e := range entries {
		t, err := parseTimestamp(e.CreatedAt)
		if err != nil {
			allParsed = false
			continue
		}
		if !prevTime.IsZero() && t.Before(prevTime) {
			tsDetail = fmt.Sprintf("entry %d (created_at=%s) is earlier than entry %d", i, e.CreatedAt, i-1)
			break
		}
		prevTime = t
	}
	switch {
	case tsDetail != "":
		result.add("monotonic_timestamps", StatusWarn, tsDetail)
	case !allParsed:
		result.add("monotonic_timestamps", StatusWarn, "some timestamps could not be parsed")
	default:
		result.add("monotonic_timestamps", StatusPass, "")
	}

	verifySignature(&result, exp, key)
	return result
}

func verifySignature(result *Result, exp Export, key []byte) {
	if len(key) == 0 {
		if exp.Signature != "" {
			result.SigNote = "HMAC signature present but not verified (no key supplied)"
		}
		return
	}
	if exp.Signature == "" {
		result.add("signature", StatusFail, "export is unsigned")
		return
	}
	want, err := Sign(exp.Entries, key)
	if err != nil {
		result.add("signature", StatusFail, err.Error())
		return
	}
	got, err := hex.DecodeString(exp.Signature)
	if err != nil {
		result.add("signature", StatusFail, "signature is not hex")
		return
	}
	wantRaw, _ := hex.DecodeString(want)
	if hmac.Equal(got, wantRaw) {
		result.add("signature", StatusPass, "")
	} else {
		result.add("signature", StatusFail, "HMAC does not match")
	}
}

// parseTimestamp parses RFC3339Nano, falling back to RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	return t, err
}
