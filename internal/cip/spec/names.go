package spec

import (
	"fmt"

	"github.com/tturner/cipadapter/internal/cip/protocol"
)

var cipServiceNames = map[uint8]string{
	0x01: "Get_Attribute_All",
	0x02: "Set_Attribute_All",
	0x05: "Reset",
	0x0A: "Multiple_Service_Packet",
	0x0E: "Get_Attribute_Single",
	0x10: "Set_Attribute_Single",
	0x4E: "Forward_Close",
	0x52: "Unconnected_Send",
	0x54: "Forward_Open",
	0x56: "Get_Connection_Data",
	0x57: "Search_Connection_Data",
	0x5A: "Get_Connection_Owner",
	0x5B: "Large_Forward_Open",
}

var cipStatusNames = map[uint8]string{
	StatusSuccess:                "Success",
	StatusConnectionFailure:      "Connection_Failure",
	StatusResourceUnavailable:    "Resource_Unavailable",
	StatusInvalidParameterValue:  "Invalid_Parameter_Value",
	StatusPathSegmentError:       "Path_Segment_Error",
	StatusPathDestinationUnknown: "Path_Destination_Unknown",
	StatusServiceNotSupported:    "Service_Not_Supported",
	StatusObjectStateConflict:    "Object_State_Conflict",
	StatusAttributeNotSettable:   "Attribute_Not_Settable",
	StatusDeviceStateConflict:    "Device_State_Conflict",
	StatusNotEnoughData:          "Not_Enough_Data",
	StatusAttributeNotSupported:  "Attribute_Not_Supported",
	StatusTooMuchData:            "Too_Much_Data",
	StatusObjectDoesNotExist:     "Object_Does_Not_Exist",
	StatusEmbeddedServiceError:   "Embedded_Service_Error",
	StatusVendorSpecific:         "Vendor_Specific_Error",
	StatusInvalidParameter:       "Invalid_Parameter",
}

// ServiceName returns a display name for a CIP service code. The reply bit
// is ignored.
func ServiceName(code protocol.ServiceCode) string {
	if name, ok := cipServiceNames[uint8(code&^protocol.ReplyBit)]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(0x%02X)", uint8(code))
}

// StatusName returns a display name for a general status code.
func StatusName(status uint8) string {
	if name, ok := cipStatusNames[status]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%02X)", status)
}
