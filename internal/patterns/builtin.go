package patterns

// builtinPattern is an authored rule. Names are stable: they appear in
// assessments, audit entries, and operator suppression calls.
type builtinPattern struct {
	name string
	expr string
}

// Critical aliases and suspicious constructions. Any match blocks outright.
var builtinCriticalAliases = []builtinPattern{
	{"encoded_command", `(?:^|\s)-e(?:nc(?:odedcommand)?)?\s+\S`},
	{"execution_policy_bypass", `-executionpolicy\s+bypass`},
	{"download_and_execute", `(?:invoke-webrequest|iwr|curl|wget|downloadstring|downloadfile)[^|;]*[|;]\s*(?:iex|invoke-expression)`},
	{"iex_of_web", `(?:iex|invoke-expression)\s*\(?\s*(?:\(?\s*new-object\s+net\.webclient|invoke-webrequest|iwr)`},
	{"hidden_window_spawn", `(?:powershell|pwsh)(?:\.exe)?\s+[^|;]*-w(?:indowstyle)?\s+hidden`},
	{"amsi_tamper", `amsiutils|amsiinitfailed`},
	{"lsass_dump", `procdump[^|;]*lsass|comsvcs\.dll,\s*minidump`},
	{"credential_read", `get-credential\s+.*\|\s*convertfrom-securestring|vaultcmd`},
}

// Hard-blocked commands. Matches return BLOCKED without execution.
var builtinBlocked = []builtinPattern{
	{"format_volume", `^\s*format-volume\b`},
	{"clear_disk", `^\s*clear-disk\b`},
	{"remove_partition", `^\s*remove-partition\b`},
	{"stop_computer", `^\s*stop-computer\b`},
	{"restart_computer", `^\s*restart-computer\b`},
	{"remove_item_system_root", `remove-item\s+[^|;]*(?:c:\\windows|\$env:systemroot|/etc|/usr|/boot)`},
	{"recurse_force_root", `remove-item\s+[^|;]*-recurse[^|;]*(?:\s[a-z]:\\\s*$|\s[a-z]:\\[\s'"]|\s/\s*$)`},
	{"registry_hklm_delete", `remove-item(?:property)?\s+[^|;]*hklm:`},
	{"disable_defender", `set-mppreference\s+[^|;]*-disablerealtimemonitoring\s+\$?true`},
	{"firewall_off", `set-netfirewallprofile\s+[^|;]*-enabled\s+false`},
	{"shadow_copy_delete", `vssadmin\s+delete\s+shadows|wmic\s+shadowcopy\s+delete`},
	{"boot_config_tamper", `bcdedit\s+[^|;]*(?:recoveryenabled\s+no|bootstatuspolicy\s+ignoreallfailures)`},
}

// Dangerous fallbacks: not blocked outright but denied by policy (blocked=true
// at DANGEROUS severity per the assessment rules).
var builtinDangerous = []builtinPattern{
	{"stop_critical_service", `stop-service\s+[^|;]*(?:winrm|wuauserv|windefend|eventlog|lanmanserver)`},
	{"disable_critical_service", `set-service\s+[^|;]*-startuptype\s+disabled`},
	{"remove_recurse_force", `remove-item\s+[^|;]*-recurse[^|;]*-force`},
	{"kill_process_tree", `stop-process\s+[^|;]*-force[^|;]*(?:-name\s+\*|\*)`},
	{"user_add_admin", `(?:add-localgroupmember|net\s+localgroup)\s+[^|;]*administrators`},
	{"scheduled_task_create", `(?:register-scheduledtask|schtasks\s+/create)`},
	{"wmi_process_create", `invoke-(?:wmimethod|cimmethod)\s+[^|;]*win32_process[^|;]*create`},
	{"remote_session", `(?:enter|new)-pssession\s+[^|;]*-computername`},
}

// Risky operations: allowed with explicit confirmation.
var builtinRisky = []builtinPattern{
	{"remove_item", `^\s*(?:remove-item|del|erase|rd|rmdir|ri)\b`},
	{"stop_service", `^\s*stop-service\b`},
	{"restart_service", `^\s*restart-service\b`},
	{"stop_process", `^\s*(?:stop-process|kill|spps)\b`},
	{"set_itemproperty", `^\s*set-itemproperty\b`},
	{"set_content", `^\s*(?:set-content|add-content|out-file)\b`},
	{"move_item", `^\s*(?:move-item|mi|move)\b`},
	{"rename_item", `^\s*(?:rename-item|ren|rni)\b`},
	{"new_service", `^\s*new-service\b`},
	{"install_module", `^\s*(?:install-module|install-package)\b`},
	{"uninstall_module", `^\s*(?:uninstall-module|uninstall-package)\b`},
	{"clear_eventlog", `^\s*(?:clear-eventlog|wevtutil\s+cl)\b`},
	{"set_executionpolicy", `^\s*set-executionpolicy\b`},
	{"invoke_webrequest_out", `^\s*(?:invoke-webrequest|iwr|curl|wget)\b[^|;]*-outfile`},
}

// Read-only and diagnostic commands that execute directly.
var builtinSafe = []builtinPattern{
	{"get_star", `^\s*get-[a-z]+\b`},
	{"test_star", `^\s*test-[a-z]+\b`},
	{"measure_star", `^\s*measure-[a-z]+\b`},
	{"resolve_dnsname", `^\s*resolve-dnsname\b`},
	{"select_string", `^\s*select-string\b`},
	{"write_output", `^\s*(?:write-output|write-host|echo)\b`},
	{"dir_listing", `^\s*(?:dir|ls|gci)\b`},
	{"location", `^\s*(?:get-location|pwd|set-location|cd)\b`},
	{"version_probe", `^\s*\$psversiontable\b`},
	{"help", `^\s*(?:get-help|help|man)\b`},
	{"whoami", `^\s*whoami\b`},
	{"hostname", `^\s*hostname\b`},
}
