package server

// MCPSystemContext explains the task block format to the language model
const MCPSystemContext = `
# diagmcp - PC Diagnostics Task Pipeline

diagmcp runs read-only diagnostics on this machine. Describe what to check
inside a task block and pass your full answer to 'execute_mcp_tasks'.

## Task Block
<MCP_TASKS>
{"tasks": ["Check CPU temperature", "Inspect disk usage"], "summary": "Overheating check"}
</MCP_TASKS>

- "tasks" is a non-empty list of plain-language instructions
- "summary" is optional
- Text before the block is returned to the user as your message

## Tools
- execute_mcp_tasks: run every task and get a report with one result per task
- parse_mcp_tasks: check how the tasks will be classified without running them
- list_capabilities: see which diagnostics are available on this host
- list_recent_runs / get_run_report: revisit earlier results instead of
  running the same checks again
- Any capability name: run a single diagnostic directly

## Tips
- Mention the subsystem by name (cpu, disk, memory, battery, event log,
  sfc, dism, network, driver, gpu) so each task reaches the right check
- SFC and DISM checks need administrator rights
- Event log, SFC, DISM, driver and GPU checks are Windows only
`

// GetMCPContext returns the system context for LLMs
func GetMCPContext() string {
	return MCPSystemContext
}
