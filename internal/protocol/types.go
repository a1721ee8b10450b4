package protocol

const (
	// DefaultLocalPort is the port replies from the remote are addressed to (0x6af0).
	DefaultLocalPort = 27376
	// DefaultRemotePort is the port the remote endpoint listens on (0x84be).
	DefaultRemotePort = 33982

	// PayloadSize matches an Ethernet MTU of 1500 minus IPv4 and UDP headers.
	PayloadSize = 1472
	PayloadFill = 0xFE

	// UDPIPv4Overhead is added to PayloadSize when checking link MTUs.
	UDPIPv4Overhead = 28
	UDPIPv6Overhead = 48
)

const (
	CmdResetCounter     byte = 0xAA
	CmdRequestReport    byte = 0xBB
	CmdStartRemoteSend  byte = 0xCC
	EndMarker           byte = 0xDD
	StartRemoteSendSize      = 1 + 4 + 4

	// MaxReportSize bounds the report datagram: the count must fit a uint64.
	MaxReportSize = 8
)
