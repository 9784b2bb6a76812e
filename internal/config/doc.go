// Package config loads daemon settings.
//
// Settings are merged from four sources, later ones overriding earlier:
//
//	1. Built-in defaults
//	2. YAML config file   ($XDG_CONFIG_HOME/quill/config.yaml)
//	3. Environment        (QUILL_ prefix, "__" separates sections)
//	4. Command line flags
//
// Environment keys keep single underscores, so QUILL_DISPATCH__HANDLER_TIMEOUT
// sets dispatch.handler_timeout. Durations accept Go syntax ("150ms").
//
// The merged result is decoded into Config and validated.
package config
