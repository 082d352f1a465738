package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RecordIDPrefix starts every record instance ID: msg_<unix10>_<hex8>.
const RecordIDPrefix = "msg"

// NewRecordID returns a fresh record instance ID stamped with now.
func NewRecordID(now time.Time) (string, error) {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	return fmt.Sprintf("%s_%010d_%s", RecordIDPrefix, now.Unix(), hex.EncodeToString(suffix[:])), nil
}

// splitRecordID returns the timestamp and suffix parts of a well formed ID.
func splitRecordID(id string) (stamp, suffix string, ok bool) {
	rest, found := strings.CutPrefix(id, RecordIDPrefix+"_")
	if !found {
		return "", "", false
	}
	stamp, suffix, found = strings.Cut(rest, "_")
	if !found || len(stamp) != 10 || len(suffix) != 8 {
		return "", "", false
	}
	for _, c := range stamp {
		if c < '0' || c > '9' {
			return "", "", false
		}
	}
	for _, c := range suffix {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", "", false
		}
	}
	return stamp, suffix, true
}

func ValidateID(id string) bool {
	_, _, ok := splitRecordID(id)
	return ok
}

// IDTime is the creation time encoded in a record ID.
func IDTime(id string) (time.Time, error) {
	stamp, _, ok := splitRecordID(id)
	if !ok {
		return time.Time{}, fmt.Errorf("invalid record id: %q", id)
	}
	sec, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("record id %q: %w", id, err)
	}
	return time.Unix(sec, 0), nil
}
