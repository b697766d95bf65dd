package wire

// Handshake and control keywords used on the control channel.
const (
	Handshake    = "Handshake"
	Disagreement = "Disagreement"
	Auth         = "Auth"
	AuthOK       = "AuthOK"
	AuthFailed   = "AuthFailed"
	Ping         = "Ping"
	Disconnect   = "Dis"
	Debug        = "Debug"
	DeviceError  = "Error"
	Reconfigure  = "Reconfigure"
	Refresh      = "Refresh"
)

// Handshake flags.
const (
	// FlagAuthRequired is set by a device that requires credentials.
	FlagAuthRequired uint32 = 0x01

	// FlagChecksum announces checksum support. Checksums are used when
	// both sides set it.
	FlagChecksum uint32 = 0x02
)

// Encoding names for the handshake.
const EncodingUTF8 = "utf8"

// Request magics sent by the master.
const (
	GetCapabilities   = "gDC"
	GetPortInfo       = "gPI"
	GetPortState      = "gPS"
	SetPortMode       = "sPM"
	SetPortLine       = "sPL"
	SetPortValue      = "sPV"
	SetPortResolution = "sPR"
	SetPortReference  = "sPRF"
	GetPosition       = "gP"
	SetPosition       = "sP"
	GetLabel          = "gL"
	BindStreaming     = "bSP"
	UnbindStreaming   = "uSP"
	GetDeviceInfo     = "gDI"
)

// Reply magics sent by the device.
const (
	Capabilities   = "DC"
	PortState      = "PS"
	PortMode       = "PM"
	PortLine       = "PL"
	PortValue      = "PV"
	PortResolution = "PR"
	PortReference  = "PRF"
	Position       = "P"
	Label          = "L"
	DeviceInfo     = "DI"
	PortError      = "E"
	AccessDenied   = "EAD"
)

// Port info magics, one per port kind.
const (
	DigitalPortInfo   = "DP"
	AnalogPortInfo    = "AP"
	SelectPortInfo    = "SLP"
	DialPortInfo      = "DL"
	StreamingPortInfo = "SP"
)
