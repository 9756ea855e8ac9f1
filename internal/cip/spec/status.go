package spec

// CIP general status codes.
const (
	StatusSuccess                = 0x00
	StatusConnectionFailure      = 0x01
	StatusResourceUnavailable    = 0x02
	StatusInvalidParameterValue  = 0x03
	StatusPathSegmentError       = 0x04
	StatusPathDestinationUnknown = 0x05
	StatusPartialTransfer        = 0x06
	StatusServiceNotSupported    = 0x08
	StatusInvalidAttributeValue  = 0x09
	StatusAttributeListError     = 0x0A
	StatusObjectStateConflict    = 0x0C
	StatusAttributeNotSettable   = 0x0E
	StatusPrivilegeViolation     = 0x0F
	StatusDeviceStateConflict    = 0x10
	StatusReplyDataTooLarge      = 0x11
	StatusNotEnoughData          = 0x13
	StatusAttributeNotSupported  = 0x14
	StatusTooMuchData            = 0x15
	StatusObjectDoesNotExist     = 0x16
	StatusInvalidParameter       = 0x20
	StatusEmbeddedServiceError   = 0x1E
	StatusVendorSpecific         = 0x1F
)

// Connection Manager extended status codes, carried with StatusConnectionFailure.
const (
	ExtConnectionInUse                       uint16 = 0x0100
	ExtTransportTriggerNotSupported          uint16 = 0x0103
	ExtOwnershipConflict                     uint16 = 0x0106
	ExtConnectionNotFoundAtTargetApplication uint16 = 0x0107
	ExtInvalidNetworkConnectionParameter     uint16 = 0x0108
	ExtInvalidConnectionSize                 uint16 = 0x0109
	ExtRPINotSupported                       uint16 = 0x0111
	ExtNoMoreConnectionsAvailable            uint16 = 0x0113
	ExtVendorIDOrProductCodeMismatch         uint16 = 0x0114
	ExtDeviceTypeMismatch                    uint16 = 0x0115
	ExtRevisionMismatch                      uint16 = 0x0116
	ExtNonListenOnlyConnectionNotOpened      uint16 = 0x0119
	ExtTargetObjectOutOfConnections          uint16 = 0x011A
	ExtInvalidOToTConnectionType             uint16 = 0x0123
	ExtInvalidTToOConnectionType             uint16 = 0x0124
	ExtInvalidOToTSize                       uint16 = 0x0127
	ExtInvalidTToOSize                       uint16 = 0x0128
	ExtInvalidConfigurationApplicationPath   uint16 = 0x0129
	ExtInvalidConsumingApplicationPath       uint16 = 0x012A
	ExtInvalidProducingApplicationPath       uint16 = 0x012B
	ExtInconsistentApplicationPathCombo      uint16 = 0x012F
	ExtParameterErrorInUnconnectedSend       uint16 = 0x0205
	ExtInvalidSegmentTypeInPath              uint16 = 0x0315
	ExtPortNotAvailable                      uint16 = 0x0311
)
