// Package saya is the process-wide module controller.
//
// A Saya loads modules through a Loader, feeds every cube a module registered
// into the dispatch interface, records the module's channel and reverses all
// of it on unload. Reload is unload followed by a fresh load whose state is
// copied onto the original channel, so callers holding the channel see the new
// content in place.
//
// Lifecycle per module:
//
//	unloaded → loading → loaded → unloading → unloaded
//
// Error handling:
//   - Duplicate behaviour type, busy or unknown behaviour, unknown channel,
//     unloading the main channel → configuration errors, no state change
//   - No behaviour claims a cube → dispatch.ErrDispatchCrashed; cubes already
//     allocated by the failed load are uninstalled again and the module is not
//     registered
//   - Loader and module code errors are returned unchanged
//   - Mount lookups on missing keys → ErrKeyNotFound
//
// Lifecycle notifications are posted to the Notifier without waiting on it;
// they are best-effort and not transactional with the step they describe.
//
// Loads and unloads run on one logical control flow. Module code may call
// Require re-entrantly through the controller bound to its context. Host code
// driving the controller from several goroutines wraps calls in Serial.
package saya
