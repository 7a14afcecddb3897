// SPDX-FileCopyrightText: (C) 2025 Intel Corporation
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/edge-node-agents/updatehub-agent/internal/executor"
)

// recordingExecutor captures every external command the installer asks for,
// optionally running a callback per invocation.
type recordingExecutor struct {
	calls  [][]string
	stdout map[string]string
	onRun  func(name string, args []string)
}

func (r *recordingExecutor) Run(ctx context.Context, name string, args ...string) (executor.Result, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.onRun != nil {
		r.onRun(name, args)
	}
	return executor.Result{Stdout: r.stdout[name]}, nil
}

func TestInstallIfDifferentUnmarshalsStringForm(t *testing.T) {
	var iid InstallIfDifferent
	require.NoError(t, json.Unmarshal([]byte(`"sha256sum"`), &iid))
	assert.True(t, iid.CheckSum)
	assert.True(t, iid.IsSet())

	assert.Error(t, json.Unmarshal([]byte(`"md5sum"`), &iid))
}

func TestInstallIfDifferentUnmarshalsPatternForms(t *testing.T) {
	var known InstallIfDifferent
	require.NoError(t, json.Unmarshal([]byte(`{"version":"5.4.0","pattern":"linux-kernel"}`), &known))
	assert.Equal(t, "linux-kernel", known.Pattern)
	assert.Equal(t, "5.4.0", known.Version)

	var custom InstallIfDifferent
	require.NoError(t, json.Unmarshal(
		[]byte(`{"version":"v2","pattern":{"regexp":"app-(\\S+)","seek":4,"buffer-size":64}}`), &custom))
	assert.Equal(t, "app-(\\S+)", custom.Regexp)
	assert.Equal(t, int64(4), custom.Seek)
	assert.Equal(t, int64(64), custom.BufferSize)
}

func TestShouldSkipCheckSumMatchesTargetContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("0123456789")
	require.NoError(t, afero.WriteFile(fs, "/dev/mmcblk0p2", content, 0o644))

	iid := &InstallIfDifferent{CheckSum: true}

	skip, err := iid.ShouldSkip(fs, "/dev/mmcblk0p2", uint64(len(content)), sha256hex(content))
	require.NoError(t, err)
	assert.True(t, skip)

	skip, err = iid.ShouldSkip(fs, "/dev/mmcblk0p2", uint64(len(content)), sha256hex([]byte("different")))
	require.NoError(t, err)
	assert.False(t, skip)
}

func TestShouldSkipKnownPatternComparesBannerVersion(t *testing.T) {
	fs := afero.NewMemMapFs()
	banner := []byte("garbage\x00Linux version 5.4.0-42 (gcc 9.3)\x00more")
	require.NoError(t, afero.WriteFile(fs, "/dev/kernel", banner, 0o644))

	same := &InstallIfDifferent{Version: "5.4.0-42", Pattern: "linux-kernel"}
	skip, err := same.ShouldSkip(fs, "/dev/kernel", 0, "")
	require.NoError(t, err)
	assert.True(t, skip)

	other := &InstallIfDifferent{Version: "5.10.0", Pattern: "linux-kernel"}
	skip, err = other.ShouldSkip(fs, "/dev/kernel", 0, "")
	require.NoError(t, err)
	assert.False(t, skip)

	bogus := &InstallIfDifferent{Version: "1", Pattern: "freebsd-kernel"}
	_, err = bogus.ShouldSkip(fs, "/dev/kernel", 0, "")
	assert.ErrorIs(t, err, ErrUnsupportedPattern)
}

func TestShouldSkipCustomPatternReadsAtOffset(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/dev/app", []byte("xxxxapp-v2.1 trailing"), 0o644))

	iid := &InstallIfDifferent{Version: "v2.1", Regexp: `app-(\S+)`, Seek: 4, BufferSize: 16}
	skip, err := iid.ShouldSkip(fs, "/dev/app", 0, "")
	require.NoError(t, err)
	assert.True(t, skip)
}

func TestRawInstallCopiesObjectOntoTarget(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("raw-image-bytes")
	sum := sha256hex(content)
	require.NoError(t, afero.WriteFile(fs, "/downloads/"+sum, content, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dev/sda1", make([]byte, 32), 0o644))

	r := (&Raw{
		Common:     Common{SHA256SumField: sum, SizeField: uint64(len(content))},
		TargetType: "device",
		Target:     "/dev/sda1",
		Count:      -1,
	}).WithFs(fs)

	require.NoError(t, r.Install(context.Background(), "/downloads"))

	written, err := afero.ReadFile(fs, "/dev/sda1")
	require.NoError(t, err)
	assert.Equal(t, content, written[:len(content)])
}

func TestRawInstallSkipsWhenTargetAlreadyMatches(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("already-there")
	sum := sha256hex(content)
	require.NoError(t, afero.WriteFile(fs, "/dev/sda1", content, 0o644))
	// No object file under /downloads: a write attempt would fail loudly.

	r := (&Raw{
		Common:             Common{SHA256SumField: sum, SizeField: uint64(len(content))},
		TargetType:         "device",
		Target:             "/dev/sda1",
		Count:              -1,
		InstallIfDifferent: &InstallIfDifferent{CheckSum: true},
	}).WithFs(fs)

	assert.NoError(t, r.Install(context.Background(), "/downloads"))
}

func TestFlashInstallErasesThenCopies(t *testing.T) {
	fs := afero.NewMemMapFs()
	exec := &recordingExecutor{}

	f := (&Flash{
		Common:     Common{SHA256SumField: "cafe", SizeField: 4},
		TargetType: "device",
		Target:     "/dev/mtd1",
	}).WithExecutor(exec).WithFs(fs)

	require.NoError(t, f.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, []string{"flash_erase", "/dev/mtd1", "0", "0"}, exec.calls[0])
	assert.Equal(t, []string{"flashcp", "/downloads/cafe", "/dev/mtd1"}, exec.calls[1])
}

func TestFlashInstallUsesNandwriteForNandDevices(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/sys/class/mtd/mtd1/type", []byte("nand\n"), 0o644))
	exec := &recordingExecutor{}

	f := (&Flash{
		Common:     Common{SHA256SumField: "cafe", SizeField: 4},
		TargetType: "device",
		Target:     "/dev/mtd1",
	}).WithExecutor(exec).WithFs(fs)

	require.NoError(t, f.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, "nandwrite", exec.calls[1][0])
}

func TestFlashResolvesMtdNameThroughProcMtd(t *testing.T) {
	fs := afero.NewMemMapFs()
	procMtd := "dev:    size   erasesize  name\nmtd0: 00100000 00020000 \"u-boot\"\nmtd1: 00400000 00020000 \"system0\"\n"
	require.NoError(t, afero.WriteFile(fs, "/proc/mtd", []byte(procMtd), 0o644))
	exec := &recordingExecutor{}

	f := (&Flash{
		Common:     Common{SHA256SumField: "cafe", SizeField: 4},
		TargetType: "mtdname",
		Target:     "system0",
	}).WithExecutor(exec).WithFs(fs)

	require.NoError(t, f.Install(context.Background(), "/downloads"))
	assert.Equal(t, []string{"flash_erase", "/dev/mtd1", "0", "0"}, exec.calls[0])
}

func TestUbifsInstallResolvesVolumeAndUpdates(t *testing.T) {
	exec := &recordingExecutor{stdout: map[string]string{
		"ubinfo": "Volume ID:   3 (on ubi0)\nUBI device number:   0\nName:        system0",
	}}

	u := (&Ubifs{
		Common:     Common{SHA256SumField: "beef", SizeField: 4},
		TargetType: "ubivolume",
		Target:     "system0",
	}).WithExecutor(exec)

	require.NoError(t, u.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, []string{"ubinfo", "-a", "-N", "system0"}, exec.calls[0])
	assert.Equal(t, []string{"ubiupdatevol", "/dev/ubi0_3", "/downloads/beef"}, exec.calls[1])
}

func TestUbootEnvInstallAppliesScript(t *testing.T) {
	exec := &recordingExecutor{}

	u := (&UbootEnv{Common: Common{SHA256SumField: "feed"}}).WithExecutor(exec)
	require.NoError(t, u.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{"fw_setenv", "-c", "/etc/fw_env.config", "--script", "/downloads/feed"}, exec.calls[0])
}

func TestImxkobsInstallBuildsCommandLine(t *testing.T) {
	exec := &recordingExecutor{}

	i := (&Imxkobs{
		Common:          Common{SHA256SumField: "dead"},
		Padding1K:       true,
		SearchExponent:  2,
		Chip0DevicePath: "/dev/mtd0",
	}).WithExecutor(exec)

	require.NoError(t, i.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 1)
	assert.Equal(t, []string{
		"kobs-ng", "init", "-x", "/downloads/dead",
		"--search_exponent=2", "--chip_0_device_path=/dev/mtd0", "-v",
	}, exec.calls[0])
}

func TestCopyInstallMountsWritesAndUnmounts(t *testing.T) {
	fs := afero.NewMemMapFs()
	content := []byte("config-file-content")
	sum := sha256hex(content)
	require.NoError(t, afero.WriteFile(fs, "/downloads/"+sum, content, 0o644))

	var fileSeenAtUnmount bool
	var mountPoint string
	exec := &recordingExecutor{}
	exec.onRun = func(name string, args []string) {
		switch name {
		case "mount":
			mountPoint = args[len(args)-1]
		case "umount":
			ok, _ := afero.Exists(fs, mountPoint+"/etc/app.conf")
			fileSeenAtUnmount = ok
		}
	}

	c := (&Copy{
		Common:     Common{SHA256SumField: sum, SizeField: uint64(len(content))},
		Filesystem: "ext4",
		TargetType: "device",
		Target:     "/dev/mmcblk0p3",
		TargetPath: "/etc/app.conf",
	}).WithExecutor(exec).WithFs(fs)

	require.NoError(t, c.Install(context.Background(), "/downloads"))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, "mount", exec.calls[0][0])
	assert.Equal(t, "umount", exec.calls[1][0])
	assert.True(t, fileSeenAtUnmount, "copied file should exist while the target is still mounted")
}
