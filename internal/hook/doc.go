// Package hook discovers script handlers on disk and keeps the event
// registry in sync with them.
//
// A hook directory holds *.lua and *.cue files and an optional hooks.toml:
//
//	api = "^1.0"
//
//	[handlers."guards.guard"]
//	priority = 5
//
//	[handlers.tagger]
//	enabled = false
//	depends = ["guards.guard"]
//
// api is a semver constraint checked against script.APIVersion. Entries
// under handlers override what the script declares for the named handler.
//
// Manager.ReloadFile recompiles one file and diffs its handlers against what
// is registered: new handlers are subscribed, vanished ones unsubscribed,
// handlers whose filter, dependencies or entry point changed are
// re-subscribed, and priority or enabled changes are applied in place. A
// file that no longer exists is unloaded.
package hook
