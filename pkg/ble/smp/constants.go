package smp

// IOCapability is the Pairing Request/Response IO Capability field (Core
// Spec Vol 3 Part H Section 2.3.2, Table 2.4).
type IOCapability byte

const (
	IOCapDisplayOnly     IOCapability = 0x00
	IOCapDisplayYesNo    IOCapability = 0x01
	IOCapKeyboardOnly    IOCapability = 0x02
	IOCapNoInputNoOutput IOCapability = 0x03
	IOCapKeyboardDisplay IOCapability = 0x04
)

// OOBDataFlag is the Pairing Request/Response OOB data present field.
type OOBDataFlag byte

const (
	OOBDisabled OOBDataFlag = 0x00
	OOBEnabled  OOBDataFlag = 0x01
)

// PairingMethod selects the key-generation method negotiated from IO
// capabilities and OOB/MITM flags (Core Spec Vol 3 Part H Section 2.3.5.1).
type PairingMethod int

const (
	PairingLegacyJustWorks PairingMethod = iota
	PairingLegacyPasskey
	PairingLESCJustWorks
	PairingLESCNumericComparison
	PairingOOB
)

// AuthReq bit positions within the Pairing Request/Response AuthReq octet.
const (
	AuthReqBonding  byte = 0x01
	AuthReqMITM     byte = 0x04
	AuthReqLESC     byte = 0x08
	AuthReqKeypress byte = 0x10
	AuthReqCT2      byte = 0x20
)

// Key distribution bit positions within the Initiator/Responder Key
// Distribution octets.
const (
	KeyDistEncKey  byte = 0x01
	KeyDistIDKey   byte = 0x02
	KeyDistSignKey byte = 0x04
	KeyDistLinkKey byte = 0x08
)

// FailReason is the single-byte reason code carried by a Pairing Failed PDU.
type FailReason byte

const (
	ReasonPasskeyEntryFailed    FailReason = 0x01
	ReasonOOBNotAvailable       FailReason = 0x02
	ReasonAuthRequirements      FailReason = 0x03
	ReasonConfirmValueFailed    FailReason = 0x04
	ReasonPairingNotSupported   FailReason = 0x05
	ReasonEncryptionKeySize     FailReason = 0x06
	ReasonCommandNotSupported   FailReason = 0x07
	ReasonUnspecifiedReason     FailReason = 0x08
	ReasonRepeatedAttempts      FailReason = 0x09
	ReasonInvalidParameters     FailReason = 0x0A
	ReasonDHKeyCheckFailed      FailReason = 0x0B
	ReasonNumericComparisonFail FailReason = 0x0C
)

// PDU opcodes (Core Spec Vol 3 Part H Section 3.3), the first byte of every
// SMP PDU carried on L2CAP CID 0x06.
const (
	OpPairingRequest  byte = 0x01
	OpPairingResponse byte = 0x02
	OpPairingConfirm  byte = 0x03
	OpPairingRandom   byte = 0x04
	OpPairingFailed   byte = 0x05
	OpEncryptionInfo  byte = 0x06
	OpMasterIdent     byte = 0x07
	OpIdentityInfo    byte = 0x08
	OpIdentityAddr    byte = 0x09
	OpSigningInfo     byte = 0x0A
	OpSecurityRequest byte = 0x0B
)
