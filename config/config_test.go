package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/criyle/go-spawn/types"
)

const fullConfig = `
default_uid: 1000
default_gid: 1000
allowed_uids: [1000, 1001]
allowed_gids: [1000, 100]
trusted_hook_info: [lb, translation]
cgroup:
  systemd_scope: cm4all-spawn.scope
  systemd_slice: system.slice
log_level: debug
`

func TestParse(t *testing.T) {
	c, err := Parse(strings.NewReader(fullConfig))
	require.NoError(t, err)

	require.NotNil(t, c.DefaultUid)
	assert.Equal(t, uint32(1000), *c.DefaultUid)
	assert.Equal(t, []uint32{1000, 1001}, c.AllowedUids)
	assert.Equal(t, []uint32{1000, 100}, c.AllowedGids)
	assert.Equal(t, []string{"lb", "translation"}, c.TrustedHookInfo)
	assert.Equal(t, "cm4all-spawn.scope", c.Cgroup.SystemdScope)
	assert.Equal(t, "system.slice", c.Cgroup.SystemdSlice)
	assert.Equal(t, logrus.DebugLevel, c.Level(logrus.InfoLevel))
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Nil(t, c.DefaultUid)
	assert.Equal(t, logrus.InfoLevel, c.Level(logrus.InfoLevel))
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "default_shell: /bin/sh\n"},
		{"uid without gid", "default_uid: 1000\n"},
		{"user and uid", "default_user: www\ndefault_uid: 1\ndefault_gid: 1\n"},
		{"root default", "default_uid: 0\ndefault_gid: 0\n"},
		{"both cgroup sources", "cgroup:\n  path: /sys/fs/cgroup/a\n  systemd_scope: a.scope\n"},
		{"bad level", "log_level: loud\n"},
		{"negative uid", "allowed_uids: [-1]\n"},
		{"any with list", "allow_any_uid_gid: true\nallowed_uids: [1000]\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "spawn.yaml")
	require.NoError(t, os.WriteFile(p, []byte(fullConfig), 0644))
	c, err := Load(p)
	require.NoError(t, err)
	assert.Len(t, c.AllowedUids, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPolicy(t *testing.T) {
	c, err := Parse(strings.NewReader(fullConfig))
	require.NoError(t, err)
	p, err := NewPolicy(c)
	require.NoError(t, err)

	def, ok := p.DefaultUidGid()
	require.True(t, ok)
	assert.Equal(t, types.UidGid{Uid: 1000, Gid: 1000, Groups: []uint32{}}, def)

	assert.NoError(t, p.VerifyUidGid(types.UidGid{Uid: 1001, Gid: 100}))
	assert.NoError(t, p.VerifyUidGid(types.UidGid{Uid: 1000, Gid: 1000, Groups: []uint32{100}}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 2000, Gid: 1000}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 1000, Gid: 2000}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 1000, Gid: 1000, Groups: []uint32{27}}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 0, Gid: 1000}))
}

func TestPolicyEmptyListsReject(t *testing.T) {
	p, err := NewPolicy(&Config{})
	require.NoError(t, err)

	_, ok := p.DefaultUidGid()
	assert.False(t, ok)
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 4242, Gid: 4242}))

	p, err = NewPolicy(&Config{AllowedUids: []uint32{4242}})
	require.NoError(t, err)
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 4242, Gid: 4242}))
}

func TestPolicyAllowAny(t *testing.T) {
	c, err := Parse(strings.NewReader("allow_any_uid_gid: true\n"))
	require.NoError(t, err)
	p, err := NewPolicy(c)
	require.NoError(t, err)

	assert.NoError(t, p.VerifyUidGid(types.UidGid{Uid: 4242, Gid: 4242, Groups: []uint32{1, 2}}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 4242, Gid: 0}))
	assert.Error(t, p.VerifyUidGid(types.UidGid{Uid: 0, Gid: 4242}))
}

func TestPolicyDefaultUser(t *testing.T) {
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	require.NoError(t, os.WriteFile(passwd, []byte(
		"root:x:0:0:root:/root:/bin/sh\n"+
			"www:x:33:33:www-data:/var/www:/usr/sbin/nologin\n"), 0644))
	require.NoError(t, os.WriteFile(group, []byte(
		"root:x:0:\n"+
			"www:x:33:\n"+
			"audio:x:29:www,alice\n"+
			"video:x:44:alice\n"+
			"web:x:80:www\n"), 0644))

	p, err := newPolicy(&Config{DefaultUser: "www"}, passwd, group)
	require.NoError(t, err)
	def, ok := p.DefaultUidGid()
	require.True(t, ok)
	assert.Equal(t, uint32(33), def.Uid)
	assert.Equal(t, uint32(33), def.Gid)
	assert.Equal(t, []uint32{29, 80}, def.Groups)

	// callers may modify the returned groups
	def.Groups[0] = 1
	def, _ = p.DefaultUidGid()
	assert.Equal(t, uint32(29), def.Groups[0])

	_, err = newPolicy(&Config{DefaultUser: "nobody"}, passwd, group)
	assert.Error(t, err)
	_, err = newPolicy(&Config{DefaultUser: "root"}, passwd, group)
	assert.Error(t, err)
}

func TestTrustedHook(t *testing.T) {
	assert.Nil(t, NewTrustedHook(&Config{}))

	h := NewTrustedHook(&Config{TrustedHookInfo: []string{"lb"}})
	require.NotNil(t, h)

	spec := types.NewChildSpec()
	ok, err := h.Verify(spec)
	require.NoError(t, err)
	assert.False(t, ok)

	spec.HookInfo = "lb"
	ok, err = h.Verify(spec)
	require.NoError(t, err)
	assert.True(t, ok)

	spec.HookInfo = "other"
	ok, _ = h.Verify(spec)
	assert.False(t, ok)
}
