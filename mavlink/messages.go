package mavlink

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageID is a MAVLink message id. v1 frames carry 8 bits, v2 frames 24.
type MessageID uint32

const (
	MsgHeartbeat           MessageID = 0
	MsgSysStatus           MessageID = 1
	MsgSystemTime          MessageID = 2
	MsgPing                MessageID = 4
	MsgSetMode             MessageID = 11
	MsgParamRequestRead    MessageID = 20
	MsgParamRequestList    MessageID = 21
	MsgParamValue          MessageID = 22
	MsgParamSet            MessageID = 23
	MsgGPSRawInt           MessageID = 24
	MsgRawIMU              MessageID = 27
	MsgAttitude            MessageID = 30
	MsgGlobalPositionInt   MessageID = 33
	MsgRCChannelsRaw       MessageID = 35
	MsgServoOutputRaw      MessageID = 36
	MsgMissionItem         MessageID = 39
	MsgMissionRequest      MessageID = 40
	MsgMissionCurrent      MessageID = 42
	MsgMissionCount        MessageID = 44
	MsgMissionAck          MessageID = 47
	MsgNavControllerOutput MessageID = 62
	MsgRCChannels          MessageID = 65
	MsgRequestDataStream   MessageID = 66
	MsgVFRHUD              MessageID = 74
	MsgCommandInt          MessageID = 75
	MsgCommandLong         MessageID = 76
	MsgCommandAck          MessageID = 77
	MsgRadioStatus         MessageID = 109
	MsgTimesync            MessageID = 111
	MsgBatteryStatus       MessageID = 147
	MsgAutopilotVersion    MessageID = 148
	MsgHighLatency         MessageID = 234
	MsgHighLatency2        MessageID = 235
	MsgHomePosition        MessageID = 242
	MsgExtendedSysState    MessageID = 245
	MsgStatusText          MessageID = 253
)

var names = map[MessageID]string{
	MsgHeartbeat:           "HEARTBEAT",
	MsgSysStatus:           "SYS_STATUS",
	MsgSystemTime:          "SYSTEM_TIME",
	MsgPing:                "PING",
	MsgSetMode:             "SET_MODE",
	MsgParamRequestRead:    "PARAM_REQUEST_READ",
	MsgParamRequestList:    "PARAM_REQUEST_LIST",
	MsgParamValue:          "PARAM_VALUE",
	MsgParamSet:            "PARAM_SET",
	MsgGPSRawInt:           "GPS_RAW_INT",
	MsgRawIMU:              "RAW_IMU",
	MsgAttitude:            "ATTITUDE",
	MsgGlobalPositionInt:   "GLOBAL_POSITION_INT",
	MsgRCChannelsRaw:       "RC_CHANNELS_RAW",
	MsgServoOutputRaw:      "SERVO_OUTPUT_RAW",
	MsgMissionItem:         "MISSION_ITEM",
	MsgMissionRequest:      "MISSION_REQUEST",
	MsgMissionCurrent:      "MISSION_CURRENT",
	MsgMissionCount:        "MISSION_COUNT",
	MsgMissionAck:          "MISSION_ACK",
	MsgNavControllerOutput: "NAV_CONTROLLER_OUTPUT",
	MsgRCChannels:          "RC_CHANNELS",
	MsgRequestDataStream:   "REQUEST_DATA_STREAM",
	MsgVFRHUD:              "VFR_HUD",
	MsgCommandInt:          "COMMAND_INT",
	MsgCommandLong:         "COMMAND_LONG",
	MsgCommandAck:          "COMMAND_ACK",
	MsgRadioStatus:         "RADIO_STATUS",
	MsgTimesync:            "TIMESYNC",
	MsgBatteryStatus:       "BATTERY_STATUS",
	MsgAutopilotVersion:    "AUTOPILOT_VERSION",
	MsgHighLatency:         "HIGH_LATENCY",
	MsgHighLatency2:        "HIGH_LATENCY2",
	MsgHomePosition:        "HOME_POSITION",
	MsgExtendedSysState:    "EXTENDED_SYS_STATE",
	MsgStatusText:          "STATUSTEXT",
}

var ids = func() map[string]MessageID {
	m := make(map[string]MessageID, len(names))
	for id, name := range names {
		m[name] = id
	}
	return m
}()

// crcExtras seeds the frame checksum of each message, derived from its
// field layout in the common dialect.
var crcExtras = map[MessageID]byte{
	MsgHeartbeat:           50,
	MsgSysStatus:           124,
	MsgSystemTime:          137,
	MsgPing:                237,
	MsgSetMode:             89,
	MsgParamRequestRead:    214,
	MsgParamRequestList:    159,
	MsgParamValue:          220,
	MsgParamSet:            168,
	MsgGPSRawInt:           24,
	MsgRawIMU:              144,
	MsgAttitude:            39,
	MsgGlobalPositionInt:   104,
	MsgRCChannelsRaw:       244,
	MsgServoOutputRaw:      222,
	MsgMissionItem:         254,
	MsgMissionRequest:      230,
	MsgMissionCurrent:      28,
	MsgMissionCount:        221,
	MsgMissionAck:          153,
	MsgNavControllerOutput: 183,
	MsgRCChannels:          118,
	MsgRequestDataStream:   148,
	MsgVFRHUD:              20,
	MsgCommandInt:          158,
	MsgCommandLong:         152,
	MsgCommandAck:          143,
	MsgRadioStatus:         185,
	MsgTimesync:            34,
	MsgBatteryStatus:       154,
	MsgAutopilotVersion:    178,
	MsgHighLatency:         150,
	MsgHighLatency2:        179,
	MsgHomePosition:        104,
	MsgExtendedSysState:    130,
	MsgStatusText:          83,
}

func (id MessageID) String() string {
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("MSG_%d", uint32(id))
}

// ParseMessageID accepts a message name, with or without the
// MAVLINK_MSG_ID_ prefix and in any case, or a decimal id.
func ParseMessageID(s string) (MessageID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty name", ErrUnknownMessage)
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if n > 1<<24-1 {
			return 0, fmt.Errorf("%w: id %d out of range", ErrUnknownMessage, n)
		}
		return MessageID(n), nil
	}

	name := strings.TrimPrefix(strings.ToUpper(s), "MAVLINK_MSG_ID_")
	if id, ok := ids[name]; ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMessage, s)
}

// DefaultEssential is the allow-list used when none is configured:
// keep-alives, status, position and the mode and command messages the
// ground station needs to stay in control.
var DefaultEssential = []MessageID{
	MsgHeartbeat,
	MsgSysStatus,
	MsgSetMode,
	MsgMissionCurrent,
	MsgGlobalPositionInt,
	MsgCommandInt,
	MsgCommandLong,
	MsgCommandAck,
	MsgGPSRawInt,
	MsgStatusText,
	MsgHighLatency,
	MsgHighLatency2,
}
