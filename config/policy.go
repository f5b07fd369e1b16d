package config

import (
	"github.com/moby/sys/user"
	"github.com/pkg/errors"

	"github.com/criyle/go-spawn/types"
)

const (
	passwdPath = "/etc/passwd"
	groupPath  = "/etc/group"
)

// Policy is the uid / gid policy built from a Config
type Policy struct {
	def        *types.UidGid
	allowAny   bool
	allowedUid map[uint32]bool
	allowedGid map[uint32]bool
}

// NewPolicy resolves the default identity and the allow-lists of c
func NewPolicy(c *Config) (*Policy, error) {
	return newPolicy(c, passwdPath, groupPath)
}

func newPolicy(c *Config, passwd, group string) (*Policy, error) {
	p := &Policy{
		allowAny:   c.AllowAnyUidGid,
		allowedUid: toSet(c.AllowedUids),
		allowedGid: toSet(c.AllowedGids),
	}
	switch {
	case c.DefaultUser != "":
		u, err := lookupUser(c.DefaultUser, passwd, group)
		if err != nil {
			return nil, err
		}
		p.def = u
	case c.DefaultUid != nil:
		p.def = &types.UidGid{Uid: *c.DefaultUid, Gid: *c.DefaultGid, Groups: []uint32{}}
	}
	return p, nil
}

// DefaultUidGid returns the configured default identity
func (p *Policy) DefaultUidGid() (types.UidGid, bool) {
	if p.def == nil {
		return types.UidGid{}, false
	}
	u := *p.def
	u.Groups = append([]uint32{}, p.def.Groups...)
	return u, true
}

// VerifyUidGid rejects root and, unless any identity is allowed, identities
// missing from the allow-lists. Every supplementary group is checked against
// allowed_gids.
func (p *Policy) VerifyUidGid(u types.UidGid) error {
	if u.Uid == 0 || u.Gid == 0 {
		return errors.Errorf("uid %d gid %d: root is not allowed", u.Uid, u.Gid)
	}
	if p.allowAny {
		return nil
	}
	if !p.allowedUid[u.Uid] {
		return errors.Errorf("uid %d is not allowed", u.Uid)
	}
	if !p.allowedGid[u.Gid] {
		return errors.Errorf("gid %d is not allowed", u.Gid)
	}
	for _, g := range u.Groups {
		if !p.allowedGid[g] {
			return errors.Errorf("supplementary group %d is not allowed", g)
		}
	}
	return nil
}

func lookupUser(name, passwd, group string) (*types.UidGid, error) {
	users, err := user.ParsePasswdFileFilter(passwd, func(u user.User) bool {
		return u.Name == name
	})
	if err != nil {
		return nil, errors.Wrap(err, "default_user")
	}
	if len(users) == 0 {
		return nil, errors.Errorf("default_user %q: no such user", name)
	}
	u := users[0]
	if u.Uid <= 0 || u.Gid <= 0 {
		return nil, errors.Errorf("default_user %q: root is not allowed", name)
	}

	groups, err := user.ParseGroupFileFilter(group, func(g user.Group) bool {
		if g.Gid == u.Gid {
			return false
		}
		for _, m := range g.List {
			if m == name {
				return true
			}
		}
		return false
	})
	if err != nil {
		return nil, errors.Wrap(err, "default_user groups")
	}
	if len(groups) > types.MaxGroups {
		return nil, errors.Errorf("default_user %q: %d supplementary groups", name, len(groups))
	}
	ret := &types.UidGid{Uid: uint32(u.Uid), Gid: uint32(u.Gid), Groups: make([]uint32, 0, len(groups))}
	for _, g := range groups {
		ret.Groups = append(ret.Groups, uint32(g.Gid))
	}
	return ret, nil
}

func toSet(ids []uint32) map[uint32]bool {
	m := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
