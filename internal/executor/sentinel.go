package executor

import (
	"strconv"
	"strings"
)

// stripSentinel searches the tail of stdout for the metrics sentinel line,
// removes it, and parses the sample. Parse failures discard the sample; the
// sentinel is never part of the caller-visible contract.
func stripSentinel(stdout string) (cleaned string, cpuSec, wsMB *float64) {
	idx := strings.LastIndex(stdout, MetricsSentinelPrefix)
	if idx < 0 {
		return stdout, nil, nil
	}

	lineEnd := strings.IndexByte(stdout[idx:], '\n')
	var rest string
	if lineEnd >= 0 {
		rest = stdout[idx+lineEnd+1:]
	}
	payload := stdout[idx+len(MetricsSentinelPrefix):]
	if lineEnd >= 0 {
		payload = stdout[idx+len(MetricsSentinelPrefix) : idx+lineEnd]
	}

	cleaned = strings.TrimRight(stdout[:idx], "\r\n")
	if rest != "" {
		cleaned += "\n" + rest
	}

	parts := strings.Split(strings.TrimSpace(payload), ",")
	if len(parts) != 2 {
		return cleaned, nil, nil
	}
	cpu, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	ws, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return cleaned, nil, nil
	}
	return cleaned, &cpu, &ws
}
