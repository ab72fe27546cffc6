package comms

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/sealab-robotics/rovd/logging"
	"github.com/sealab-robotics/rovd/sensors"
)

func startTestServer(t *testing.T, trusted []string) *Server {
	t.Helper()
	server := NewServer(trusted, logging.NewTestLogger(t))
	test.That(t, server.Start("127.0.0.1:0"), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, server.Close(), test.ShouldBeNil)
	})
	return server
}

func dialTestServer(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", server.Addr().String())
	test.That(t, err, test.ShouldBeNil)
	return conn
}

func waitForSession(t *testing.T, server *Server) {
	t.Helper()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		test.That(tb, server.Connected(), test.ShouldBeTrue)
	})
}

func TestUntrustedPeerRejected(t *testing.T) {
	server := startTestServer(t, []string{"10.0.0."})
	conn := dialTestServer(t, server)
	defer conn.Close()

	// The connection is closed without any reply.
	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	_, err := conn.Read(make([]byte, 1))
	test.That(t, err, test.ShouldBeError, io.EOF)
	test.That(t, server.Connected(), test.ShouldBeFalse)
}

func TestTrustedPrefixMatch(t *testing.T) {
	server := NewServer([]string{"192.168.2.", "10.1."}, logging.NewTestLogger(t))

	test.That(t, server.isTrusted("192.168.2.42"), test.ShouldBeTrue)
	test.That(t, server.isTrusted("10.1.7.3"), test.ShouldBeTrue)
	test.That(t, server.isTrusted("192.168.20.42"), test.ShouldBeTrue) // prefix, not subnet
	test.That(t, server.isTrusted("192.168.3.1"), test.ShouldBeFalse)
	test.That(t, server.isTrusted("172.16.0.1"), test.ShouldBeFalse)
}

func TestCommandFlow(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	defer conn.Close()
	waitForSession(t, server)

	_, err := conn.Write([]byte(`{"command":"set_thrust","motors":{"port":0.5,"starboard":-0.25}}` + "\n"))
	test.That(t, err, test.ShouldBeNil)

	command, err := server.Receive(ctx, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, command, test.ShouldNotBeNil)
	test.That(t, command.Command, test.ShouldEqual, CommandSetThrust)
	test.That(t, command.Motors["port"], test.ShouldAlmostEqual, 0.5)
	test.That(t, command.Motors["starboard"], test.ShouldAlmostEqual, -0.25)
}

func TestMalformedLineSkipped(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	defer conn.Close()
	waitForSession(t, server)

	_, err := conn.Write([]byte("this is not json\n\n" + `{"command":"emergency_stop"}` + "\n"))
	test.That(t, err, test.ShouldBeNil)

	// The bad line and the blank line are dropped; the session survives.
	command, err := server.Receive(ctx, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, command, test.ShouldNotBeNil)
	test.That(t, command.Command, test.ShouldEqual, CommandEmergencyStop)
	test.That(t, server.Connected(), test.ShouldBeTrue)
}

func TestReceiveTimeout(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	defer conn.Close()
	waitForSession(t, server)

	command, err := server.Receive(ctx, 10*time.Millisecond)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, command, test.ShouldBeNil)
}

func TestDisconnectSurfaces(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	waitForSession(t, server)

	test.That(t, conn.Close(), test.ShouldBeNil)
	command, err := server.Receive(ctx, 5*time.Second)
	test.That(t, command, test.ShouldBeNil)
	test.That(t, err, test.ShouldBeError, ErrConnectionLost)
	test.That(t, server.Connected(), test.ShouldBeFalse)
}

func TestSendTelemetryLine(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	defer conn.Close()
	waitForSession(t, server)

	voltage := 12.4
	server.Send(ctx, &Telemetry{
		Voltage:     &voltage,
		VoltageMode: "normal",
		PressurePSI: 14.7,
		MotorState:  map[string]float64{"port": 0.0},
		Env:         map[string]sensors.EnvReading{"internal": {Temperature: 24.0, Humidity: 40.0}},
	})

	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	scanner := bufio.NewScanner(conn)
	test.That(t, scanner.Scan(), test.ShouldBeTrue)

	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(scanner.Bytes(), &decoded), test.ShouldBeNil)
	test.That(t, decoded["voltage"], test.ShouldAlmostEqual, 12.4)
	test.That(t, decoded["voltage_mode"], test.ShouldEqual, "normal")
	test.That(t, decoded["pressure_psi"], test.ShouldAlmostEqual, 14.7)
	// Not yet commanded this cycle, so no actual thrust field appears.
	_, hasActual := decoded["actual"]
	test.That(t, hasActual, test.ShouldBeFalse)
}

func TestSendBeforeFirstVoltageReading(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})
	conn := dialTestServer(t, server)
	defer conn.Close()
	waitForSession(t, server)

	server.Send(ctx, &Telemetry{VoltageMode: "normal"})

	test.That(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)), test.ShouldBeNil)
	scanner := bufio.NewScanner(conn)
	test.That(t, scanner.Scan(), test.ShouldBeTrue)

	// Voltage is explicitly null until the first reading exists.
	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(scanner.Bytes(), &decoded), test.ShouldBeNil)
	value, present := decoded["voltage"]
	test.That(t, present, test.ShouldBeTrue)
	test.That(t, value, test.ShouldBeNil)
}

func TestSessionReplacement(t *testing.T) {
	ctx := context.Background()
	server := startTestServer(t, []string{"127."})

	first := dialTestServer(t, server)
	defer first.Close()
	waitForSession(t, server)

	second := dialTestServer(t, server)
	defer second.Close()

	// Telemetry flows to the newer session once it takes over.
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		server.Send(ctx, LogNotice{Log: "hello"})
		test.That(tb, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)), test.ShouldBeNil)
		scanner := bufio.NewScanner(second)
		test.That(tb, scanner.Scan(), test.ShouldBeTrue)
	})

	// The replaced session going away is not a loss of the active one.
	test.That(t, first.Close(), test.ShouldBeNil)
	command, err := server.Receive(ctx, 200*time.Millisecond)
	test.That(t, command, test.ShouldBeNil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, server.Connected(), test.ShouldBeTrue)

	_, err = second.Write([]byte(`{"command":"set_thrust","motors":{"port":1}}` + "\n"))
	test.That(t, err, test.ShouldBeNil)
	command, err = server.Receive(ctx, 5*time.Second)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, command.Command, test.ShouldEqual, CommandSetThrust)
}
