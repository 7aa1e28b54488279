package sfp

// I2C addresses presented by an SFF-8472 module.
const (
	BaseAddr uint8 = 0x50 // serial ID / base info map
	DiagAddr uint8 = 0x51 // digital diagnostic monitoring map
)

// Base map registers.
const (
	regVendorName   = 0x14
	regVendorPN     = 0x28
	regDiagType     = 0x5c
	regEnhancedOpts = 0x5d

	vendorFieldLen = 15
)

// Diagnostic map registers.
const (
	regTempRaw    = 0x60
	regVoltageRaw = 0x62
	regCurrentRaw = 0x64
	regTxPowerRaw = 0x66
	regRxPowerRaw = 0x68
	regStatusCtrl = 0x6e
	regThresholds = 0x18
)

// Bit positions, shared by the read and the write paths.
const (
	DiagTypeDDMBit        = 6 // 0x50/0x5C: digital diagnostics implemented
	DiagTypeAddrChangeBit = 2 // 0x50/0x5C: address change required to reach 0x51
	EnhancedSoftTxBit     = 6 // 0x50/0x5D: soft TX_DISABLE implemented
	StatusTxDisablePinBit = 7 // 0x51/0x6E: TX_DISABLE pin state
	StatusSoftTxBit       = 6 // 0x51/0x6E: soft TX_DISABLE register
)

func bit(v uint8, n uint) bool {
	return v&(1<<n) != 0
}

// Capabilities are decoded from the base map and re-read on every query.
type Capabilities struct {
	DDMSupported  bool
	AddressChange bool
	SoftTxControl bool
}

func DecodeDiagType(v uint8) (ddm, addrChange bool) {
	return bit(v, DiagTypeDDMBit), bit(v, DiagTypeAddrChangeBit)
}

func DecodeEnhancedOptions(v uint8) (softTx bool) {
	return bit(v, EnhancedSoftTxBit)
}

// TxControl is the observed state of the 0x51/0x6E status/control byte.
type TxControl struct {
	Raw         uint8
	PinDisabled bool
	RegDisabled bool
}

func DecodeStatusCtrl(v uint8) TxControl {
	return TxControl{
		Raw:         v,
		PinDisabled: bit(v, StatusTxDisablePinBit),
		RegDisabled: bit(v, StatusSoftTxBit),
	}
}

// ApplySoftTx returns v with only the soft TX_DISABLE bit changed:
// enabling transmit clears it, disabling sets it.
func ApplySoftTx(v uint8, on bool) uint8 {
	if on {
		return v &^ (1 << StatusSoftTxBit)
	}
	return v | 1<<StatusSoftTxBit
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
