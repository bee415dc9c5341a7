package executor

import (
	"fmt"
	"strings"
)

// selfDestructLeadMs is subtracted from the effective timeout so the
// internal exit fires just before the external timer would.
const selfDestructLeadMs = 300

// selfDestructExitCode is the exit code the wrapper uses, mirroring the
// conventional timeout(1) code.
const selfDestructExitCode = 124

// MetricsSentinelPrefix marks the final stdout line carrying process
// metrics. It is stripped before output reaches the caller.
const MetricsSentinelPrefix = "__MCP_PSMETRICS__"

// wrapCommand builds the script actually handed to the shell: progress
// suppression, strict mode, an optional self-destruct timer, the user
// command, and an optional metrics sentinel.
func wrapCommand(command string, timeoutMs int64, selfDestruct, captureMetrics bool) string {
	var b strings.Builder

	b.WriteString("$ProgressPreference = 'SilentlyContinue'\n")
	b.WriteString("Set-StrictMode -Version Latest\n")

	if selfDestruct && timeoutMs > selfDestructLeadMs {
		fireAt := timeoutMs - selfDestructLeadMs
		fmt.Fprintf(&b,
			"$__sd = New-Object System.Timers.Timer(%d)\n"+
				"$__sd.AutoReset = $false\n"+
				"$null = Register-ObjectEvent -InputObject $__sd -EventName Elapsed -Action { [Environment]::Exit(%d) }\n"+
				"$__sd.Start()\n",
			fireAt, selfDestructExitCode)
	}

	b.WriteString(command)
	b.WriteString("\n")

	if captureMetrics {
		fmt.Fprintf(&b,
			"$__p = Get-Process -Id $PID\n"+
				"Write-Output ('%s{0},{1}' -f $__p.TotalProcessorTime.TotalSeconds, [Math]::Round($__p.WorkingSet64 / 1MB, 2))\n",
			MetricsSentinelPrefix)
	}

	return b.String()
}
