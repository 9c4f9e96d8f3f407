package bootloader

import (
	"testing"

	"github.com/cherrylink/dapfw/pkg/platform"
)

func TestArmThenResetSucceeds(t *testing.T) {
	p := platform.NewFake()
	ack, handled := Handle(ArmUpdateFlag, p)
	if !handled || ack != dapOK {
		t.Fatalf("arm: handled=%v ack=%#x", handled, ack)
	}
	ack, handled = Handle(ResetToBootloader, p)
	if !handled || ack != dapOK {
		t.Fatalf("reset: handled=%v ack=%#x", handled, ack)
	}
	if p.ResetCount != 1 {
		t.Fatalf("ResetCount = %d, want 1", p.ResetCount)
	}
}

func TestResetWithoutArmFails(t *testing.T) {
	p := platform.NewFake()
	ack, handled := Handle(ResetToBootloader, p)
	if !handled || ack != dapError {
		t.Fatalf("reset without arm: handled=%v ack=%#x", handled, ack)
	}
	if p.ResetCount != 0 {
		t.Fatalf("ResetCount = %d, want 0", p.ResetCount)
	}
}

func TestUnknownSubCommandNotHandled(t *testing.T) {
	p := platform.NewFake()
	_, handled := Handle(0x1F, p)
	if handled {
		t.Fatal("unknown vendor sub-command reported handled")
	}
}
