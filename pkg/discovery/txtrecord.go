package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// MaxTXTRecordSize is the maximum total size of the TXT strings.
const MaxTXTRecordSize = 400

// TXT keys published by iiod.
const (
	TXTKeyVersion = "version"
	TXTKeyBackend = "backend"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings,
// sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]string, 0, len(keys))
	for _, k := range keys {
		result = append(result, k+"="+txt[k])
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if !found && k == "" {
			continue
		}
		// Key without value is a boolean flag
		txt[k] = v
	}
	return txt
}

// ValidateTXT checks that txt fits in a DNS TXT record.
func ValidateTXT(txt TXTRecordMap) error {
	total := 0
	for k, v := range txt {
		if k == "" || strings.Contains(k, "=") {
			return fmt.Errorf("%w: bad key %q", ErrInvalidTXTRecord, k)
		}
		n := len(k) + 1 + len(v)
		if n > 255 {
			return fmt.Errorf("%w: %q is %d bytes", ErrInvalidTXTRecord, k, n)
		}
		total += n + 1
	}
	if total > MaxTXTRecordSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidTXTRecord, total)
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
