package netsetup

import "testing"

// TestApplyNetCtlValidation exercises the pure validation paths of
// ApplyNetCtl that return before touching any real interface -- spec.md
// §4.5 rejects a malformed NetCtlRequest without attempting setAddr,
// which is the only part of this function a sandboxed test can safely
// drive without a real TAP/eth device present.
func TestApplyNetCtlValidation(t *testing.T) {
	cases := []struct {
		name    string
		req     NetCtlRequest
		wantErr bool
	}{
		{"empty address is a no-op", NetCtlRequest{If: IfVPN}, false},
		{"malformed address", NetCtlRequest{If: IfVPN, Addr: "not-an-ip"}, true},
		{"ipv4 without netmask", NetCtlRequest{If: IfVPN, Addr: "10.0.0.2"}, true},
		{"ipv4 with malformed netmask", NetCtlRequest{If: IfVPN, Addr: "10.0.0.2", Mask: "not-a-mask"}, true},
		{"ipv4 with malformed gateway", NetCtlRequest{If: IfVPN, Addr: "10.0.0.2", Mask: "255.255.255.0", Gateway: "nope"}, true},
	}

	m := NewManager()
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := m.ApplyNetCtl(c.req)
			if c.wantErr && err == nil {
				t.Fatalf("ApplyNetCtl(%+v): expected error, got nil", c.req)
			}
			if !c.wantErr && err != nil {
				t.Fatalf("ApplyNetCtl(%+v): unexpected error: %v", c.req, err)
			}
		})
	}
}

func TestInterfaceString(t *testing.T) {
	if got := IfVPN.String(); got != "vpn" {
		t.Fatalf("IfVPN.String() = %q, want vpn", got)
	}
	if got := IfInet.String(); got != "inet" {
		t.Fatalf("IfInet.String() = %q, want inet", got)
	}
}
