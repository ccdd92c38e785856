/*
Package config defines the YAML configuration files and the challenge
manifest format.

Three documents live here. The controller config (listen address, data
directory, TLS, tunables) and the agent config (controller URL,
enrollment token, devices, tool overrides) are per-process files loaded
once at startup. The challenge manifest is operator input applied at
runtime through the reload API: challenges are upserted by name and
entries absent from the manifest are left untouched, so a manifest is a
catalog, not a full desired-state declaration.

Durations are written as Go duration strings ("90s", "5m") via the
Duration wrapper. Tunables fall back field by field to defaults and
accept CHALLENGECTL_* environment overrides, which is how tests shrink
every timer without a config file.

Validation happens at load: a config or manifest that parses but cannot
work (no devices, bad frequency, max_delay below min_delay) is rejected
with a field-specific error rather than discovered mid-operation.
*/
package config
