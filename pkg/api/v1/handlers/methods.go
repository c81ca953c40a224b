package handlers

import "strings"

// RPC method names for agent-facing instance operations
const (
	InstanceRegister         = "instance.register"
	InstanceDeclareSubmitted = "instance.declareSubmitted"
	InstanceDeclareRunning   = "instance.declareRunning"
	InstanceHeartbeat        = "instance.heartbeat"
	InstanceDeclareHalting   = "instance.declareHalting"
	InstanceSetHandle        = "instance.setHandle"
	InstanceGetHandle        = "instance.getHandle"
	InstanceGetHandleByName  = "instance.getHandleByName"
)

// IsInstanceMethod reports whether the method belongs to the instance
// namespace
func IsInstanceMethod(method string) bool {
	return strings.HasPrefix(method, "instance.")
}
