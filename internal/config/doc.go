// Package config loads, validates, and defaults conveyor's TOML
// configuration.
//
// Configuration is resolved from an explicit path, $CONVEYOR_CONFIG, or
// ~/.config/conveyor/config.toml, merged over Default(). Paths support ~
// expansion and are created on demand via EnsureDirectories. A sample config
// is embedded for `conveyor config init`.
package config
