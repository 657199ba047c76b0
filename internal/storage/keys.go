package storage

import (
	"fmt"
	"strings"
)

const (
	pointPrefix   = "vault:"
	historyPrefix = "history:"
	metricsSuffix = ":metrics"

	// HistoryKeyPattern matches every history key for SCAN.
	HistoryKeyPattern = historyPrefix + "*" + metricsSuffix
)

// PointKey is the key holding the latest metrics snapshot of a vault.
func PointKey(vaultID, network string) string {
	return fmt.Sprintf("vault:%s:%s:metrics", network, vaultID)
}

// HistoryKey is the key of the time-ordered metrics log of a vault.
func HistoryKey(vaultID, network string) string {
	return fmt.Sprintf("history:%s:%s:metrics", network, vaultID)
}

// ParseHistoryKey extracts (network, vaultID) from a history key. Networks
// never contain ':' so the first separator splits the pair.
func ParseHistoryKey(key string) (network, vaultID string, ok bool) {
	if !strings.HasPrefix(key, historyPrefix) || !strings.HasSuffix(key, metricsSuffix) {
		return "", "", false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(key, historyPrefix), metricsSuffix)
	network, vaultID, ok = strings.Cut(inner, ":")
	if !ok || network == "" || vaultID == "" {
		return "", "", false
	}
	return network, vaultID, true
}
