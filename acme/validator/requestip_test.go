package validator

import (
	"context"
	"log"
	"net"
	"os"
	"testing"
	"time"

	"github.com/letsencrypt/challtestsrv"
	"github.com/stretchr/testify/require"
)

// newTestDNSServer starts a challtestsrv DNS-01 responder on an ephemeral
// loopback port, mirroring how cpu-acmeshell's shell wires one up for its
// own integration tests.
func newTestDNSServer(t *testing.T) (*challtestsrv.ChallSrv, string) {
	t.Helper()
	srv, err := challtestsrv.New(challtestsrv.Config{
		DNSOneAddrs: []string{"127.0.0.1:0"},
		Log:         log.New(os.Stdout, "challsrv: ", log.Ldate|log.Ltime),
	})
	require.NoError(t, err)

	go srv.Run()
	t.Cleanup(srv.Shutdown)
	time.Sleep(50 * time.Millisecond)

	addrs := srv.DNSOneAddrs()
	require.NotEmpty(t, addrs)
	return srv, addrs[0]
}

func TestRequestIPValidatorSucceedsOnMatchingRecord(t *testing.T) {
	srv, resolver := newTestDNSServer(t)
	srv.AddARecord("example.test.", []net.IP{net.ParseIP("10.0.0.5")})
	t.Cleanup(func() { srv.DeleteARecord("example.test.") })

	v := NewRequestIPValidator(resolver)
	err := v.Validate(context.Background(), nil, Request{
		Identifier: "example.test.",
		ActualIP:   net.ParseIP("10.0.0.5"),
	})
	require.NoError(t, err)
}

func TestRequestIPValidatorFailsOnMismatch(t *testing.T) {
	srv, resolver := newTestDNSServer(t)
	srv.AddARecord("example.test.", []net.IP{net.ParseIP("10.0.0.5")})
	t.Cleanup(func() { srv.DeleteARecord("example.test.") })

	v := NewRequestIPValidator(resolver)
	err := v.Validate(context.Background(), nil, Request{
		Identifier: "example.test.",
		ActualIP:   net.ParseIP("10.0.0.99"),
	})
	require.Error(t, err)
	require.IsType(t, &CouldNotValidate{}, err)
}
