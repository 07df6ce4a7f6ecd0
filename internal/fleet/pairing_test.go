package fleet

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fleetgate/internal/remote"
	"fleetgate/internal/types"
)

func TestApproveCreatesRecordAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	runner := newFakeRunner()
	runner.respond(remote.CmdApproveDevice,
		`{"success":true,"device":{"id":"dev-1","hostname":"gpu-box","ip":"10.0.0.7","platform":"linux"}}`)
	e := newTestEngine(runner, st)

	for i := 0; i < 2; i++ {
		res, err := e.Approve(ctx, "prod", "dev-1")
		if err != nil {
			t.Fatalf("Approve #%d: %v", i+1, err)
		}
		if !res.Success || !res.Found || !res.Gateway {
			t.Errorf("Approve #%d result = %+v", i+1, res)
		}
		if res.MachineID == "" {
			t.Errorf("Approve #%d: no machine id", i+1)
		}
	}

	records, _ := st.ListMachines(ctx)
	if len(records) != 1 {
		t.Fatalf("got %d records after double approve, want 1", len(records))
	}
	rec := records[0]
	if rec.Hostname != "gpu-box" || rec.Status != types.StatusConnected {
		t.Errorf("record = %+v", rec)
	}
}

func TestApproveNotFoundIsNotAnError(t *testing.T) {
	runner := newFakeRunner()
	runner.respond(remote.CmdApproveDevice, `{"success":false,"error":"device not found"}`)
	e := newTestEngine(runner, &fakeStore{})

	res, err := e.Approve(context.Background(), "prod", "ghost")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if res.Success || res.Found {
		t.Errorf("result = %+v, want not-found outcome", res)
	}
	if res.Message == "" {
		t.Error("not-found outcome should carry a message")
	}
	if len(runner.rawCalls) != 0 {
		t.Errorf("not-found answer is definitive, fallback ran anyway: %v", runner.rawCalls)
	}
}

func TestApproveTransportFailureIsRetryable(t *testing.T) {
	// Both the CLI path and the admin-API fallback fail at the transport
	// layer, and nothing is cached locally.
	e := newTestEngine(newFakeRunner(), &fakeStore{})

	_, err := e.Approve(context.Background(), "prod", "dev-1")
	if err == nil {
		t.Fatal("want transport error")
	}
	if !types.IsTransport(err) {
		t.Errorf("err = %v, want transport error so callers retry", err)
	}
}

func TestApproveFromLocalPendingWhenGatewayDown(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	e := newTestEngine(newFakeRunner(), st)
	key := types.RemoteTarget{Host: "gw.test", User: "ops"}.CacheKey()
	e.pending[key] = []types.PendingDevice{
		{DeviceID: "dev-1", Hostname: "gpu-box", IP: "10.0.0.7", Platform: "linux"},
	}

	res, err := e.Approve(ctx, "prod", "dev-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !res.Success || !res.Local || res.Gateway {
		t.Errorf("result = %+v, want local-only success", res)
	}
	if got := e.ApprovedCount(); got != 1 {
		t.Errorf("approved count = %d, want 1", got)
	}
	records, _ := st.ListMachines(ctx)
	if len(records) != 1 || records[0].Hostname != "gpu-box" {
		t.Errorf("records = %+v, want one from pending identifiers", records)
	}
	if len(e.pending[key]) != 0 {
		t.Errorf("pending entry not consumed: %+v", e.pending[key])
	}
}

func TestApproveFallsBackToAdminAPI(t *testing.T) {
	runner := newFakeRunner()
	runner.respond(remote.CmdApproveDevice, "some chatter that parses to nothing useful error")
	runner.rawResult = &types.ExecutionResult{Success: true, Output: `{"success":true}`}
	e := newTestEngine(runner, &fakeStore{})

	res, err := e.Approve(context.Background(), "prod", "dev-1")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if !res.Success || !res.Gateway {
		t.Errorf("result = %+v, want gateway success via fallback", res)
	}
	if len(runner.rawCalls) != 1 {
		t.Fatalf("raw calls = %v, want exactly one fallback", runner.rawCalls)
	}
	raw := runner.rawCalls[0]
	if !strings.Contains(raw, "/api/devices/dev-1/approve") || !strings.Contains(raw, "127.0.0.1:18789") {
		t.Errorf("fallback command = %q", raw)
	}
}

func TestApproveThenReconcileConverges(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	runner := newFakeRunner()
	runner.respond(remote.CmdApproveDevice,
		`{"success":true,"device":{"id":"dev-1","hostname":"gpu-box","ip":"10.0.0.7","platform":"linux"}}`)
	runner.respond(remote.CmdNodeList, `{"nodes":[{"hostname":"gpu-box","connected":true,"platform":"linux","ip":"10.0.0.7"}]}`)
	e := newTestEngine(runner, st)

	if _, err := e.Approve(ctx, "prod", "dev-1"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	view, err := e.Reconcile(ctx, "prod")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(view.TrackedMachines) != 1 {
		t.Fatalf("tracked = %+v, want the approved machine only", view.TrackedMachines)
	}
	if view.TrackedMachines[0].Status != types.StatusConnected {
		t.Errorf("status = %q, want connected", view.TrackedMachines[0].Status)
	}
}

func TestRejectLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	runner := newFakeRunner()
	runner.respond(remote.CmdRejectDevice, `{"success":true}`)
	e := newTestEngine(runner, st)

	res, err := e.Reject(ctx, "prod", "dev-1")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	if records, _ := st.ListMachines(ctx); len(records) != 0 {
		t.Errorf("reject created records: %+v", records)
	}
	if got := e.ApprovedCount(); got != 0 {
		t.Errorf("approved count = %d after reject, want 0", got)
	}
}

func TestRemoveKeepsMachineRecord(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	id, _ := st.CreateMachine(ctx, types.MachineRecord{Hostname: "gpu-box", Status: types.StatusConnected})
	runner := newFakeRunner()
	runner.respond(remote.CmdRemoveDevice, `{"success":true}`)
	e := newTestEngine(runner, st)

	res, err := e.Remove(ctx, "prod", "dev-1")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !res.Success || !res.Gateway {
		t.Errorf("result = %+v", res)
	}
	if rec, _ := st.GetMachine(ctx, id); rec == nil {
		t.Error("remove must not delete the machine record")
	}
}

func TestRemoveNotFound(t *testing.T) {
	runner := newFakeRunner()
	runner.respond(remote.CmdRemoveDevice, `{"success":false,"error":"no such device"}`)
	e := newTestEngine(runner, &fakeStore{})

	res, err := e.Remove(context.Background(), "prod", "ghost")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if res.Success || res.Found {
		t.Errorf("result = %+v, want not-found outcome", res)
	}
}

func TestPairingRejectsUnusableDeviceID(t *testing.T) {
	e := newTestEngine(newFakeRunner(), &fakeStore{})
	if _, err := e.Approve(context.Background(), "prod", ";;;"); err == nil {
		t.Error("want error for device id that sanitizes to nothing")
	}
}

func TestPairingNoTarget(t *testing.T) {
	e := newTestEngine(newFakeRunner(), &fakeStore{})
	e.resolver = staticResolver{ok: false}
	if _, err := e.Approve(context.Background(), "prod", "dev-1"); !errors.Is(err, types.ErrNoTarget) {
		t.Errorf("err = %v, want ErrNoTarget", err)
	}
}
