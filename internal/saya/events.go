package saya

import "github.com/mattjoyce/saya/internal/channel"

// Lifecycle event kinds.
const (
	KindModuleInstalled   = "saya.module.installed"
	KindModuleUninstall   = "saya.module.uninstall"
	KindModuleUninstalled = "saya.module.uninstalled"
)

// Event is a lifecycle notification.
type Event interface {
	Kind() string
	ModuleID() string
}

// ModuleInstalled is posted after a module's cubes are all allocated.
// Cubes is counted when the event is posted; asynchronous listeners read it
// instead of Channel.Content, which a reload may replace.
type ModuleInstalled struct {
	Module  string
	Channel *channel.Channel
	Cubes   int
}

func (ModuleInstalled) Kind() string       { return KindModuleInstalled }
func (e ModuleInstalled) ModuleID() string { return e.Module }

// ModuleUninstall is posted before a module's cubes are torn down.
type ModuleUninstall struct {
	Module  string
	Channel *channel.Channel
	Cubes   int
}

func (ModuleUninstall) Kind() string       { return KindModuleUninstall }
func (e ModuleUninstall) ModuleID() string { return e.Module }

// ModuleUninstalled is posted once the module has left the module table.
type ModuleUninstalled struct {
	Module string
}

func (ModuleUninstalled) Kind() string       { return KindModuleUninstalled }
func (e ModuleUninstalled) ModuleID() string { return e.Module }
