package config

import "github.com/criyle/go-spawn/types"

// TrustedHook accepts specs whose HOOK_INFO is listed in trusted_hook_info
type TrustedHook struct {
	tags map[string]bool
}

// NewTrustedHook returns nil if no tag is configured
func NewTrustedHook(c *Config) *TrustedHook {
	if len(c.TrustedHookInfo) == 0 {
		return nil
	}
	h := &TrustedHook{tags: make(map[string]bool, len(c.TrustedHookInfo))}
	for _, t := range c.TrustedHookInfo {
		h.tags[t] = true
	}
	return h
}

// Verify returns true for a trusted tag, otherwise the request falls through
// to the uid / gid policy
func (h *TrustedHook) Verify(spec *types.ChildSpec) (bool, error) {
	if h == nil || spec.HookInfo == "" {
		return false, nil
	}
	return h.tags[spec.HookInfo], nil
}
