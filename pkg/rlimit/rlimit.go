// Package rlimit provides the resource limit table applied by prlimit in the spawned child.
package rlimit

import (
	"fmt"
	"strings"
	"syscall"
)

// NumLimits is the number of resource kinds known to linux (RLIM_NLIMITS)
const NumLimits = 16

// Infinity is RLIM_INFINITY
const Infinity = ^uint64(0)

// RLimit is the resource limits defined by Linux setrlimit
type RLimit struct {
	// Res is the resource type (e.g. syscall.RLIMIT_CPU)
	Res int
	// Rlim is the limit applied to that resource
	Rlim syscall.Rlimit
}

// Table holds an optional limit for every resource index
type Table struct {
	values [NumLimits]syscall.Rlimit
	set    uint32
}

// Set sets the limit for resource res
func (t *Table) Set(res int, rlim syscall.Rlimit) error {
	if res < 0 || res >= NumLimits {
		return fmt.Errorf("rlimit: resource index %d out of range", res)
	}
	t.values[res] = rlim
	t.set |= 1 << uint(res)
	return nil
}

// Get returns the limit for resource res and whether it was set
func (t *Table) Get(res int) (syscall.Rlimit, bool) {
	if res < 0 || res >= NumLimits || t.set&(1<<uint(res)) == 0 {
		return syscall.Rlimit{}, false
	}
	return t.values[res], true
}

// IsEmpty returns true if no limit was set
func (t *Table) IsEmpty() bool {
	return t.set == 0
}

// PrepareRLimit creates rlimit structures for the child in resource order
func (t *Table) PrepareRLimit() []RLimit {
	var ret []RLimit
	for i := 0; i < NumLimits; i++ {
		if rlim, ok := t.Get(i); ok {
			ret = append(ret, RLimit{Res: i, Rlim: rlim})
		}
	}
	return ret
}

var resourceNames = [NumLimits]string{
	syscall.RLIMIT_CPU:    "CPU",
	syscall.RLIMIT_FSIZE:  "File",
	syscall.RLIMIT_DATA:   "Data",
	syscall.RLIMIT_STACK:  "Stack",
	syscall.RLIMIT_CORE:   "Core",
	5:                     "RSS",
	6:                     "Process",
	syscall.RLIMIT_NOFILE: "OpenFile",
	8:                     "MemLock",
	syscall.RLIMIT_AS:     "AddressSpace",
	10:                    "Locks",
	11:                    "SigPending",
	12:                    "MsgQueue",
	13:                    "Nice",
	14:                    "RTPrio",
	15:                    "RTTime",
}

func formatValue(res int, v uint64) string {
	if v == Infinity {
		return "inf"
	}
	switch res {
	case syscall.RLIMIT_CPU:
		return fmt.Sprintf("%d s", v)
	case syscall.RLIMIT_FSIZE, syscall.RLIMIT_DATA, syscall.RLIMIT_STACK,
		syscall.RLIMIT_CORE, syscall.RLIMIT_AS, 5, 8, 12:
		return Size(v).String()
	default:
		return fmt.Sprintf("%d", v)
	}
}

func (r RLimit) String() string {
	t := "Unknown"
	if r.Res >= 0 && r.Res < NumLimits {
		t = resourceNames[r.Res]
	}
	return fmt.Sprintf("%s[%s:%s]", t, formatValue(r.Res, r.Rlim.Cur), formatValue(r.Res, r.Rlim.Max))
}

func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString("RLimits[")
	for i, rl := range t.PrepareRLimit() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(rl.String())
	}
	sb.WriteString("]")
	return sb.String()
}
