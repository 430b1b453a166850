package config

// DefaultConfigYAML contains the default configuration YAML content,
// written by `rover autopilot --init`.
const DefaultConfigYAML = `# Rover Configuration
#
# Values not specified here use sensible defaults.

log:
  level: info
  format: auto

# Root of rover's durable state; the project's autopilot data lives
# under <data_dir>/projects/<project.id>/.
# data_dir: ~/.local/share/rover

project:
  id: ""
  path: "."

autopilot:
  poll_interval: 1m
  tick_interval: 30s
  stagger_step: 5s
  fetch_limit: 30
  max_parallel: 3
  max_running_tasks: 3
  max_retries: 3
  agent_timeout: 5m

agents:
  default: claude
  # Adapter used for small/fast decisions (coordinator, notify).
  fast: claude

  claude:
    enabled: true
    path: claude
    # model: claude-sonnet-4-20250514
    # fast_model: claude-3-5-haiku-20241022

  gemini:
    enabled: false
    path: gemini

git:
  remote: origin
  branch_prefix: rover
  attribution_trailer: false
  # trailer_text: "Co-authored-by: Rover <rover@localhost>"
  # env_files: [".env"]
  # sparse_excludes: []

github:
  owner: ""
  repo: ""

sandbox:
  image: rover-agent:latest

state:
  backend: json # or sqlite

server:
  enabled: false
  addr: 127.0.0.1:7713
`
