package middleware

import (
	"strings"

	fiber "github.com/gofiber/fiber/v2"
)

// CapabilityHeader carries the caller's capability set, attached by the
// fronting auth layer. The manager trusts the header; authenticating the
// caller is the auth collaborator's job, not ours.
const CapabilityHeader = "X-Virtfleet-Capabilities"

const capabilitiesKey = "capabilities"

// Capabilities parses the capability header into the request locals
func Capabilities() fiber.Handler {
	return func(c *fiber.Ctx) error {
		caps := map[string]bool{}
		for _, name := range strings.Split(c.Get(CapabilityHeader), ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				caps[name] = true
			}
		}
		c.Locals(capabilitiesKey, caps)
		return c.Next()
	}
}

// HasCapability reports whether the current caller holds the named
// capability
func HasCapability(c *fiber.Ctx, name string) bool {
	caps, ok := c.Locals(capabilitiesKey).(map[string]bool)
	if !ok {
		return false
	}
	return caps[name]
}
