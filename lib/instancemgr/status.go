package instancemgr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/cvdhost/cvdd/lib/hostbin"
	"github.com/cvdhost/cvdd/lib/instancedb"
)

const cuttlefishInstanceEnvVar = "CUTTLEFISH_INSTANCE"

const webrtcDeviceIDProp = "webrtc_device_id"
const instanceNameProp = "instance_name"

// FetchInstanceStatus invokes the status host binary for a single instance
// and returns its status JSON object. It reproduces the historical
// webrtc_device_id/instance_name quirk exactly: if the binary's output
// object has instance_name but no webrtc_device_id, webrtc_device_id is
// backfilled from instance_name before instance_name is overwritten with
// the caller-supplied name (see original_source status_fetcher.cpp).
func (m *Manager) FetchInstanceStatus(ctx context.Context, group instancedb.Group, inst instancedb.Instance) (json.RawMessage, error) {
	bin, err := hostbin.StatusBin(group.HostArtifactsPath)
	if err != nil {
		return nil, fmt.Errorf("instancemgr: resolve status binary: %w", err)
	}

	env := []string{
		"HOME=" + group.HomeDirectory,
		cuttlefishInstanceEnvVar + "=" + strconv.FormatUint(uint64(inst.ID), 10),
	}
	if configPath := groupConfigFilePath(group.HomeDirectory); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			env = append(env, cuttlefishConfigEnvVar+"="+configPath)
		}
	}

	cmd := exec.CommandContext(ctx, bin)
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("instancemgr: run status binary for instance %d: %w", inst.ID, err)
	}

	raw := bytes.TrimSpace(stdout.Bytes())
	if len(raw) == 0 {
		raw = []byte(`[{"warning":"cvd-status-unsupported device"}]`)
	}

	var docs []map[string]any
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("instancemgr: parse status json for instance %d: %w", inst.ID, err)
	}
	if len(docs) != 1 {
		return nil, fmt.Errorf("instancemgr: status json for instance %d: expected exactly one object, got %d", inst.ID, len(docs))
	}
	obj := docs[0]

	if _, hasWebrtc := obj[webrtcDeviceIDProp]; !hasWebrtc {
		if name, hasName := obj[instanceNameProp]; hasName {
			obj[webrtcDeviceIDProp] = name
		}
	}
	obj[instanceNameProp] = inst.Name

	return json.Marshal(obj)
}

// FetchGroupStatus fetches status for every instance in group, in group
// order, the equivalent of "status --all_instances". A per-instance failure
// does not abort the rest of the group; it is reported inline as an error
// object so a single unreachable instance does not blank the whole response.
func (m *Manager) FetchGroupStatus(ctx context.Context, group instancedb.Group) []json.RawMessage {
	out := make([]json.RawMessage, len(group.Instances))
	for i, inst := range group.Instances {
		status, err := m.FetchInstanceStatus(ctx, group, inst)
		if err != nil {
			status, _ = json.Marshal(map[string]string{
				instanceNameProp: inst.Name,
				"error":          err.Error(),
			})
		}
		out[i] = status
	}
	return out
}
