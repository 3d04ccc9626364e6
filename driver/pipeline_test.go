package driver

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/tsawler/go-extern/buffer"
	"github.com/tsawler/go-extern/hostlib"
	"github.com/tsawler/go-extern/marshal"
	"github.com/tsawler/go-extern/registry"
)

// testPipeline builds a registry and host library with the add_one routine
// registered, plus a routine that fails with the given status
func testPipeline(t *testing.T, failCode int32) (*Pipeline, *hostlib.Library) {
	t.Helper()

	reg := registry.NewRegistry()
	if err := reg.Register("add_one", registry.NewSignature("add_one",
		registry.BufferParam(buffer.Int32, 1),
		registry.OutBufferParam(buffer.Int32, 1),
	)); err != nil {
		t.Fatalf("Register add_one failed: %v", err)
	}
	if err := reg.Register("flaky", registry.NewSignature("flaky",
		registry.OutBufferParam(buffer.Int32, 1),
	)); err != nil {
		t.Fatalf("Register flaky failed: %v", err)
	}

	lib := hostlib.NewLibrary()
	lib.Register("add_one", 2, func(argv []unsafe.Pointer) int32 {
		in := hostlib.BufferArg(argv, 0)
		out := hostlib.BufferArg(argv, 1)
		inData, err := in.Int32Data()
		if err != nil {
			return 1
		}
		outData, err := out.Int32Data()
		if err != nil {
			return 1
		}
		for i, v := range inData {
			outData[i] = v + 1
		}
		return 0
	})
	lib.Register("flaky", 1, func(argv []unsafe.Pointer) int32 {
		return failCode
	})

	return NewPipeline(reg, lib, "host"), lib
}

// TestPipelineInvokeAddOne tests the full path: registration, lazy
// resolution, marshaled call, status 0, out buffer returned
func TestPipelineInvokeAddOne(t *testing.T) {
	p, lib := testPipeline(t, 0)
	defer p.Close()

	in := []int32{1, 2, 3}
	out := make([]int32, 3)

	outs, status, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(in)),
		marshal.BufferArg(buffer.FromInt32Slice(out)),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if status != 0 {
		t.Fatalf("Expected status 0, got %d", status)
	}
	if len(outs) != 1 {
		t.Fatalf("Expected 1 out buffer, got %d", len(outs))
	}

	expected := []int32{2, 3, 4}
	for i, v := range out {
		if v != expected[i] {
			t.Errorf("out[%d] = %d; expected %d", i, v, expected[i])
		}
	}

	if state := p.SiteState("add_one"); state != StateSucceeded {
		t.Errorf("Expected site state Succeeded, got %s", state)
	}
	if count := lib.ResolveCount("add_one"); count != 1 {
		t.Errorf("Expected 1 loader query, got %d", count)
	}

	// Second invocation reuses the cached resolution
	if _, _, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(in)),
		marshal.BufferArg(buffer.FromInt32Slice(out)),
	}); err != nil {
		t.Fatalf("Second invoke failed: %v", err)
	}
	if count := lib.ResolveCount("add_one"); count != 1 {
		t.Errorf("Expected still 1 loader query after re-invoke, got %d", count)
	}
}

// TestPipelineUnknownExtern tests that an unregistered name fails before any
// loader interaction
func TestPipelineUnknownExtern(t *testing.T) {
	p, lib := testPipeline(t, 0)
	defer p.Close()

	_, _, err := p.Invoke("missing_fn", nil)
	if err == nil {
		t.Fatal("Expected UnknownExtern error")
	}
	if !errors.Is(err, registry.ErrUnknownExtern) {
		t.Errorf("Expected ErrUnknownExtern, got %v", err)
	}
	if count := lib.ResolveCount("missing_fn"); count != 0 {
		t.Errorf("Expected no loader query for unregistered name, got %d", count)
	}
}

// TestPipelineExternCallFailed tests status propagation as ExternCallError
// and the sticky Failed site state
func TestPipelineExternCallFailed(t *testing.T) {
	p, _ := testPipeline(t, 9)
	defer p.Close()

	args := []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(make([]int32, 2))),
	}

	outs, status, err := p.Invoke("flaky", args)
	if err == nil {
		t.Fatal("Expected ExternCallError")
	}
	var callErr *ExternCallError
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected *ExternCallError, got %T: %v", err, err)
	}
	if callErr.Name != "flaky" || callErr.Code != 9 {
		t.Errorf("Expected flaky/9, got %s/%d", callErr.Name, callErr.Code)
	}
	if status != 9 {
		t.Errorf("Expected status 9, got %d", status)
	}
	if outs != nil {
		t.Error("A failed stage must not expose output buffers")
	}
	if state := p.SiteState("flaky"); state != StateFailed {
		t.Errorf("Expected site state Failed, got %s", state)
	}

	// Failed is sticky: no automatic retry, the recorded failure propagates
	_, _, err = p.Invoke("flaky", args)
	if !errors.As(err, &callErr) {
		t.Fatalf("Expected recorded ExternCallError on re-invoke, got %v", err)
	}
}

// TestPipelineFailedSiteStaysFailed tests that Failed takes precedence over
// a concurrent success: a call completing after another call failed the site
// must not resurrect it
func TestPipelineFailedSiteStaysFailed(t *testing.T) {
	reg := registry.NewRegistry()
	if err := reg.Register("toggle", registry.NewSignature("toggle",
		registry.ScalarParam(buffer.Int32),
	)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	lib := hostlib.NewLibrary()
	lib.Register("toggle", 1, func(argv []unsafe.Pointer) int32 {
		if hostlib.Int32Arg(argv, 0) == 0 {
			// The slow call: succeeds, but only once released
			started <- struct{}{}
			<-release
			return 0
		}
		return 7
	})

	p := NewPipeline(reg, lib, "host")
	defer p.Close()

	slowDone := make(chan error, 1)
	go func() {
		_, _, err := p.Invoke("toggle", []marshal.Arg{marshal.Int32Arg(0)})
		slowDone <- err
	}()
	<-started

	// The site fails while the slow call is still in flight
	_, status, err := p.Invoke("toggle", []marshal.Arg{marshal.Int32Arg(1)})
	var callErr *ExternCallError
	if !errors.As(err, &callErr) || status != 7 {
		t.Fatalf("Expected ExternCallError with status 7, got %v (status %d)", err, status)
	}

	close(release)
	if err := <-slowDone; err != nil {
		t.Fatalf("In-flight invoke failed: %v", err)
	}

	if state := p.SiteState("toggle"); state != StateFailed {
		t.Errorf("Expected site state Failed after in-flight success, got %s", state)
	}
	if _, _, err := p.Invoke("toggle", []marshal.Arg{marshal.Int32Arg(0)}); !errors.As(err, &callErr) {
		t.Errorf("Expected recorded ExternCallError on re-invoke, got %v", err)
	}
}

// TestPipelinePooledOutputBuffer tests driving a call with an out buffer
// backed by a pooled allocation
func TestPipelinePooledOutputBuffer(t *testing.T) {
	p, _ := testPipeline(t, 0)
	defer p.Close()

	allocator := buffer.NewAllocator()
	alloc, err := allocator.AllocFor(buffer.Int32, 3)
	if err != nil {
		t.Fatalf("AllocFor failed: %v", err)
	}
	defer allocator.Release(alloc)

	out, err := alloc.Descriptor(buffer.Int32, 3)
	if err != nil {
		t.Fatalf("Descriptor over allocation failed: %v", err)
	}

	outs, status, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice([]int32{10, 20, 30})),
		marshal.BufferArg(out),
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if status != 0 {
		t.Fatalf("Expected status 0, got %d", status)
	}
	if len(outs) != 1 || outs[0] != out {
		t.Fatal("Expected the pooled out descriptor back")
	}

	data, err := outs[0].Int32Data()
	if err != nil {
		t.Fatalf("Int32Data failed: %v", err)
	}
	expected := []int32{11, 21, 31}
	for i, v := range data {
		if v != expected[i] {
			t.Errorf("out[%d] = %d; expected %d", i, v, expected[i])
		}
	}
}

// TestPipelineValidationLeavesSiteResolved tests that a rejected invocation
// (validation failure, no native call) does not fail the site
func TestPipelineValidationLeavesSiteResolved(t *testing.T) {
	p, _ := testPipeline(t, 0)
	defer p.Close()

	// Wrong arity: rejected before the native call
	_, _, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice([]int32{1})),
	})
	if !errors.Is(err, marshal.ErrArityMismatch) {
		t.Fatalf("Expected ErrArityMismatch, got %v", err)
	}
	if state := p.SiteState("add_one"); state != StateResolved {
		t.Errorf("Expected site state Resolved after rejected call, got %s", state)
	}

	// The site still works
	in := []int32{5}
	out := make([]int32, 1)
	if _, _, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(in)),
		marshal.BufferArg(buffer.FromInt32Slice(out)),
	}); err != nil {
		t.Fatalf("Invoke after rejected call failed: %v", err)
	}
	if out[0] != 6 {
		t.Errorf("out[0] = %d; expected 6", out[0])
	}
}

// TestPipelineSymbolNotFound tests resolution failure for a registered name
// the library does not export
func TestPipelineSymbolNotFound(t *testing.T) {
	reg := registry.NewRegistry()
	if err := reg.Register("ghost", registry.NewSignature("ghost",
		registry.ScalarParam(buffer.Int32),
	)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	p := NewPipeline(reg, hostlib.NewLibrary(), "host")
	defer p.Close()

	_, _, err := p.Invoke("ghost", []marshal.Arg{marshal.Int32Arg(1)})
	if err == nil {
		t.Fatal("Expected resolution error")
	}

	// Resolution failure is fatal to the call but not sticky; the site
	// returns to Unresolved for a later attempt
	if state := p.SiteState("ghost"); state != StateUnresolved {
		t.Errorf("Expected site state Unresolved, got %s", state)
	}
}

// TestPipelineClose tests teardown
func TestPipelineClose(t *testing.T) {
	p, _ := testPipeline(t, 0)

	p.Close()
	if _, _, err := p.Invoke("add_one", nil); err == nil {
		t.Error("Expected error invoking through a closed pipeline")
	}

	p.Close() // Double close is harmless
}

// TestPipelineIDs tests that instances are distinctly identified
func TestPipelineIDs(t *testing.T) {
	p1, _ := testPipeline(t, 0)
	p2, _ := testPipeline(t, 0)
	defer p1.Close()
	defer p2.Close()

	if p1.ID() == p2.ID() {
		t.Error("Expected distinct pipeline instance IDs")
	}
}

// TestPipelineStats tests the stats surface
func TestPipelineStats(t *testing.T) {
	p, _ := testPipeline(t, 3)
	defer p.Close()

	in := []int32{1}
	out := make([]int32, 1)
	if _, _, err := p.Invoke("add_one", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(in)),
		marshal.BufferArg(buffer.FromInt32Slice(out)),
	}); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	p.Invoke("flaky", []marshal.Arg{
		marshal.BufferArg(buffer.FromInt32Slice(make([]int32, 1))),
	})

	stats := p.Stats()
	if stats.Registered != 2 {
		t.Errorf("Expected 2 registered, got %d", stats.Registered)
	}
	if stats.Resolved != 2 {
		t.Errorf("Expected 2 resolved, got %d", stats.Resolved)
	}
	if stats.ActiveSites != 1 {
		t.Errorf("Expected 1 active site, got %d", stats.ActiveSites)
	}
	if stats.FailedSites != 1 {
		t.Errorf("Expected 1 failed site, got %d", stats.FailedSites)
	}
}
