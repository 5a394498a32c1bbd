package operation

import (
	"context"
	"testing"
	"time"

	"github.com/fyerfyer/mysql-async-client/mysqlerr"
	"github.com/fyerfyer/mysql-async-client/protocol/faketest"
)

func TestResetRunSuccess(t *testing.T) {
	handler := faketest.NewHandler(faketest.Script{})
	proxy := newTestProxy(t, handler)

	r := NewReset(handler, proxy, time.Second)
	r.Run(context.Background())

	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.State() != StateCompleted {
		t.Fatalf("expected StateCompleted, got %s", r.State())
	}
	if r.Proxy() != proxy {
		t.Fatal("expected Proxy to return the proxy it was built with")
	}
}

func TestResetCancelBeforeRun(t *testing.T) {
	handler := faketest.NewHandler(faketest.Script{})
	proxy := newTestProxy(t, handler)

	r := NewReset(handler, proxy, time.Second)
	if !r.Cancel() {
		t.Fatal("expected Cancel on an unstarted operation to return true")
	}

	r.Run(context.Background())
	if _, ok := r.Err().(*mysqlerr.Cancelled); !ok {
		t.Fatalf("expected *mysqlerr.Cancelled, got %T: %v", r.Err(), r.Err())
	}
}
