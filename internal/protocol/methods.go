package protocol

// Device methods routed to the bridge.
const (
	MethodRequestBluetoothPermissions = "requestBluetoothPermissions"
	MethodOpenAppSettings             = "openAppSettings"
	MethodIsBluetoothEnabled          = "isBluetoothEnabled"
	MethodOpenBluetooth               = "openBluetooth"
	MethodCloseBluetooth              = "closeBluetooth"
	MethodScanDevices                 = "scanDevices"
	MethodStopScanDevices             = "stopScanDevices"
	MethodConnectDevice               = "connectDevice"
	MethodBindDevice                  = "bindDevice"
	MethodDisconnectDevice            = "disconnectDevice"
	MethodGetAddress                  = "getAddress"
	MethodGetCurrentStatus            = "getCurrentStatus"
	MethodIsDeviceConnected           = "isDeviceConnected"
	MethodStartDetectHeart            = "startDetectHeart"
	MethodStopDetectHeart             = "stopDetectHeart"
	MethodSettingHeartWarning         = "settingHeartWarning"
	MethodReadHeartWarning            = "readHeartWarning"
	MethodStartDetectSpoh             = "startDetectSpoh"
	MethodStopDetectSpoh              = "stopDetectSpoh"
	MethodReadBattery                 = "readBattery"
)

// Gateway methods handled without the bridge.
const (
	MethodHello        = "hello"
	MethodEventsListen = "events.listen"
	MethodEventsCancel = "events.cancel"
)
